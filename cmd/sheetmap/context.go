package main

import (
	"fmt"
	"strings"
	"sync"

	"sheetmap/internal/client"
	"sheetmap/internal/config"
)

type commandContext struct {
	configFlag  *string
	baseURLFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag, baseURLFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		baseURLFlag: baseURLFlag,
	}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := defaultConfigPath
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("load config %s: %w", path, err)
			return
		}
		if c.baseURLFlag != nil && strings.TrimSpace(*c.baseURLFlag) != "" {
			cfg.BaseURL = strings.TrimRight(strings.TrimSpace(*c.baseURLFlag), "/")
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) newClient() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.BaseURL, client.WithTimeout(cfg.RequestTimeout)), nil
}
