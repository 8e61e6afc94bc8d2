// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the feature configuration of the priv access layer
package priv

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Attempt budget of a checked access. One attempt unless register access retry is enabled.
const (
	PRIV_ERROR_AND_RETRY_DEFAULT = 1
	PRIV_ERROR_AND_RETRY_MAX     = 10
)

type Config struct {
	RegisterAccessRetry   bool          `yaml:"registerAccessRetry"`   // retry failed accesses up to RetryMax attempts
	RetryMax              int           `yaml:"retryMax"`              // attempt budget with RegisterAccessRetry
	RetryDelay            time.Duration `yaml:"retryDelay"`            // spin wait between attempts
	Bar0Master            bool          `yaml:"bar0Master"`            // a hardware BAR0 master is present
	CSBCutoff             uint32        `yaml:"csbCutoff"`             // addresses below go over CSB
	PostedWriteNoIdleWait bool          `yaml:"postedWriteNoIdleWait"` // posted BAR0 writes return without waiting for IDLE
	Bar0PollLimit         int           `yaml:"bar0PollLimit"`         // polls of the BAR0 CSR before giving up
	Bar0PollMaxDelay      time.Duration `yaml:"bar0PollMaxDelay"`      // upper bound of the BAR0 poll delay
	Profiling             bool          `yaml:"profiling"`             // record transactions in the profiling buffer
	ProfileBase           uint32        `yaml:"profileBase"`           // address published for the profiling buffer
	MailboxBase           uint32        `yaml:"mailboxBase"`           // bus address of mailbox slot 0
}

func DefaultConfig() Config {
	return Config{
		RetryMax:         PRIV_ERROR_AND_RETRY_MAX,
		RetryDelay:       time.Microsecond,
		CSBCutoff:        LW_CSB_CUTOFF,
		Bar0PollLimit:    1000,
		Bar0PollMaxDelay: 100 * time.Microsecond,
		MailboxBase:      0x00001040,
	}
}

// LoadConfig reads a yaml file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read priv config %s", path)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse priv config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	klog.V(DBG_LVL_INFO).InfoS("priv-config.LoadConfig", "path", path, "config", cfg)
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RegisterAccessRetry && c.RetryMax < 1 {
		return errors.Errorf("retryMax must be at least 1, got %d", c.RetryMax)
	}
	if c.Bar0Master && c.Bar0PollLimit < 1 {
		return errors.Errorf("bar0PollLimit must be at least 1, got %d", c.Bar0PollLimit)
	}
	return nil
}

// return the number of attempts a checked access makes before halting
func (c Config) MaxAttempts() int {
	if c.RegisterAccessRetry {
		return c.RetryMax
	}
	return PRIV_ERROR_AND_RETRY_DEFAULT
}
