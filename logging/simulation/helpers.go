package simulation

import (
	"context"

	"sightline/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a tick exceeds the allotted budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventTickFailed is emitted when a tick aborts because a visibility system or handler failed.
	EventTickFailed logging.EventType = "simulation.tick_failed"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickFailedPayload carries the error that aborted a tick.
type TickFailedPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// TickBudgetOverrun publishes a warning when a tick exceeds the configured budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityWarn,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}

// TickFailed publishes an error event when a tick stage returns an error.
func TickFailed(ctx context.Context, pub logging.Publisher, tick uint64, payload TickFailedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickFailed,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityError,
		Category: "simulation",
		Payload:  payload,
	})
}
