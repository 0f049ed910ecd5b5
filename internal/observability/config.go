package observability

// Config captures opt-in observability toggles that wire into the HTTP
// surface.
type Config struct {
	// EnablePprofTrace mounts /debug/pprof/trace.
	EnablePprofTrace bool `yaml:"enable_pprof_trace"`
	// EnableDiagnostics mounts /diagnostics with registry and resolver
	// counters.
	EnableDiagnostics bool `yaml:"enable_diagnostics"`
}
