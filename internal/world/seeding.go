package world

import "math"

const (
	KindAvatar   = "avatar"
	KindProp     = "prop"
	KindWanderer = "wanderer"

	seedMargin = 40.0
)

// SeedInitialEntities spawns the configured props and wanderers at
// positions derived from the world seed, so two servers with the same seed
// start with the same layout.
func SeedInitialEntities(w *World) error {
	if w == nil {
		return nil
	}
	cfg := w.cfg

	props := NewDeterministicRNG(cfg.Seed, "props")
	for i := 0; i < cfg.PropCount; i++ {
		_, err := w.Spawn(Spawn{
			Kind: KindProp,
			X:    randomBetween(props, seedMargin, cfg.Width-seedMargin),
			Y:    randomBetween(props, seedMargin, cfg.Height-seedMargin),
		})
		if err != nil {
			return err
		}
	}

	wanderers := NewDeterministicRNG(cfg.Seed, "wanderers")
	for i := 0; i < cfg.WandererCount; i++ {
		angle := randomAngle(wanderers)
		_, err := w.Spawn(Spawn{
			Kind: KindWanderer,
			X:    randomBetween(wanderers, seedMargin, cfg.Width-seedMargin),
			Y:    randomBetween(wanderers, seedMargin, cfg.Height-seedMargin),
			VX:   math.Cos(angle) * cfg.WandererSpeed,
			VY:   math.Sin(angle) * cfg.WandererSpeed,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
