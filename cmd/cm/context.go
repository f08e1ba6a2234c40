package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"cmtools/internal/config"
	"cmtools/internal/engine"
	"cmtools/internal/logging"
	"cmtools/internal/store"
	"cmtools/internal/telemetry"
)

// commandContext lazily builds the config, logger, store, and engine a
// command needs, and releases them once the command returns.
type commandContext struct {
	configFlag string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	engineOnce sync.Once
	logger     *slog.Logger
	store      *store.Store
	engine     *engine.Engine
	engineErr  error
	shutdown   func(context.Context) error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureEngine(ctx context.Context) (*engine.Engine, error) {
	c.engineOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.engineErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.engineErr = fmt.Errorf("init logger: %w", err)
			return
		}
		c.logger = logger

		shutdown, err := telemetry.Setup(ctx, cfg)
		if err != nil {
			logger.Warn("tracing disabled", logging.Error(err))
		} else {
			c.shutdown = shutdown
		}

		st, err := store.Open(cfg)
		if err != nil {
			c.engineErr = fmt.Errorf("open store: %w", err)
			return
		}
		c.store = st

		eng, err := engine.NewFromConfig(ctx, cfg, st, logger)
		if err != nil {
			c.engineErr = err
			return
		}
		c.engine = eng
	})
	return c.engine, c.engineErr
}

func (c *commandContext) close() {
	if c.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warn: flush traces: %v\n", err)
		}
		cancel()
		c.shutdown = nil
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warn: close store: %v\n", err)
		}
		c.store = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
