package runtimeinit

import (
	"fmt"
	"log"

	"region-capture/src/clipboard"
	"region-capture/src/config"
	"region-capture/src/screenshot"
)

type Options struct {
	LoadOptions  config.LoadOptions
	SetupLogging func(bool)
	// RequireDisplay fails startup when the configured display is not attached.
	RequireDisplay bool
	// InitClipboard is set by processes that write captures to the clipboard.
	InitClipboard bool
}

func Bootstrap(opts Options) (*config.Config, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg.EnableFileLogging)
	}
	if cfg.EnvPath != "" {
		log.Printf("Configuration loaded from %s", cfg.EnvPath)
	}

	if opts.RequireDisplay {
		n := screenshot.ActiveDisplays()
		if cfg.DisplayIndex >= n {
			return nil, fmt.Errorf("DISPLAY_INDEX=%d but only %d display(s) attached: %w", cfg.DisplayIndex, n, screenshot.ErrNoActiveTarget)
		}
		log.Printf("Using display %d of %d (scale %.2f)", cfg.DisplayIndex, n, cfg.DeviceScale)
	}

	if opts.InitClipboard {
		if err := clipboard.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
		}
	}

	return cfg, nil
}
