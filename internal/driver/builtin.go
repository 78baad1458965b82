package driver

import (
	"context"
	"log/slog"

	"deskbridge/internal/driver/telegram"
)

// NewBuiltinRegistry returns a registry with every driver type deskbridge
// ships. lookupEnv supplies credential overrides and may be nil.
func NewBuiltinRegistry(lookupEnv func(string) (string, bool)) (*Registry, error) {
	registry := NewRegistry()
	err := registry.Register(telegram.DriverType, telegram.DriverPlatform,
		func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
			driver, dispatcher, err := telegram.NewRuntime(definition.Name, definition.Config, lookupEnv, logger)
			if err != nil {
				return Runtime{}, err
			}

			return Runtime{Driver: driver, SinkDispatcher: dispatcher}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	return registry, nil
}
