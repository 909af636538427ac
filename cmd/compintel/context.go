package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"compintel/internal/config"
	"compintel/internal/logging"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// ensureConfig loads and validates the configuration once per invocation.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.applyOverrides(cfg)
		c.config = cfg
	})
	return c.config, c.configErr
}

// inspectConfig loads the configuration without validation for read-only
// commands that do not need LLM credentials.
func (c *commandContext) inspectConfig() (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	cfg, _, _, err := config.LoadUnvalidated(c.configPath())
	if err != nil {
		return nil, err
	}
	c.applyOverrides(cfg)
	return cfg, nil
}

func (c *commandContext) applyOverrides(cfg *config.Config) {
	if c.logLevelFlag != nil {
		if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
			cfg.Logging.Level = level
		}
	}
}

// loggerFor builds the run logger from cfg the first time it is needed.
func (c *commandContext) loggerFor(cfg *config.Config) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
