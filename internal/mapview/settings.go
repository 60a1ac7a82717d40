package mapview

import (
	"time"

	"backend-zachatter/internal/config"
)

type Settings struct {
	FixedZoom           float64
	Pitch               float64
	RotationSensitivity float64
	// RotationSign is +1 or -1 depending on which way a rightward drag turns the map.
	RotationSign     float64
	Throttle         time.Duration
	LocationTimeout  time.Duration
	RecenterDebounce time.Duration
	// InitialTimeout bounds the first fix. Zero waits until the caller's
	// context ends.
	InitialTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		FixedZoom:           18.5,
		Pitch:               60,
		RotationSensitivity: 0.3,
		RotationSign:        -1,
		Throttle:            30 * time.Second,
		LocationTimeout:     30 * time.Second,
		RecenterDebounce:    100 * time.Millisecond,
	}
}

func SettingsFromConfig(cfg config.Config) Settings {
	s := DefaultSettings()
	if cfg.MapZoom > 0 {
		s.FixedZoom = cfg.MapZoom
	}
	if cfg.MapPitch > 0 {
		s.Pitch = cfg.MapPitch
	}
	if cfg.RotationSensitivity > 0 {
		s.RotationSensitivity = cfg.RotationSensitivity
	}
	if cfg.RotationSign > 0 {
		s.RotationSign = 1
	}
	if cfg.LocationThrottleSeconds > 0 {
		s.Throttle = time.Duration(cfg.LocationThrottleSeconds) * time.Second
	}
	if cfg.LocationTimeoutSeconds > 0 {
		s.LocationTimeout = time.Duration(cfg.LocationTimeoutSeconds) * time.Second
	}
	if cfg.InitialLocationTimeoutSeconds > 0 {
		s.InitialTimeout = time.Duration(cfg.InitialLocationTimeoutSeconds) * time.Second
	}
	if cfg.RecenterDebounceMs > 0 {
		s.RecenterDebounce = time.Duration(cfg.RecenterDebounceMs) * time.Millisecond
	}
	return s
}
