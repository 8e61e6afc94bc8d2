// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package rc

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

type Config struct {
	FlushTimeout time.Duration `yaml:"flushTimeout"` // bound on polling one recovery callback
	PollInterval time.Duration `yaml:"pollInterval"` // delay between recovery callback polls
}

func DefaultConfig() Config {
	return Config{
		FlushTimeout: 5 * time.Second,
		PollInterval: time.Millisecond,
	}
}

// LoadConfig reads a yaml file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read rc config %s", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse rc config %s", path)
	}
	if cfg.PollInterval <= 0 || cfg.FlushTimeout <= 0 {
		return cfg, errors.Errorf("rc config %s: flushTimeout and pollInterval must be positive", path)
	}
	klog.V(DBG_LVL_INFO).InfoS("rc-config.LoadConfig", "path", path, "config", cfg)
	return cfg, nil
}
