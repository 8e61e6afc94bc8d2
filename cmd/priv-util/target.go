// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package main

import (
	"flag"
	"strconv"

	"github.com/nvmexp/lw-firmware-sub148/pkg/priv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GPU BAR0 aperture size
const DefaultBar0Size = 16 << 20

// target selects the register aperture and the access configuration.
type target struct {
	bdf      string
	resource string
	size     int
	config   string
}

func (t *target) setFlags(f *flag.FlagSet) {
	f.StringVar(&t.bdf, "bdf", "", "PCI address of the GPU, DOMAIN:BUS:DEV.FUN")
	f.StringVar(&t.resource, "resource", "", "file to map instead of the BAR0 resource of --bdf")
	f.IntVar(&t.size, "size", DefaultBar0Size, "bytes to map")
	f.StringVar(&t.config, "config", "", "priv access yaml configuration")
}

func (t *target) loadConfig() (priv.Config, error) {
	if t.config == "" {
		return priv.DefaultConfig(), nil
	}
	return priv.LoadConfig(t.config)
}

func (t *target) open() (*priv.MmioBus, priv.Config, error) {
	cfg, err := t.loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	path := t.resource
	if path == "" {
		if t.bdf == "" {
			return nil, cfg, errors.New("need --bdf or --resource")
		}
		path = priv.Bar0ResourcePath(t.bdf)
	}
	bus, err := priv.OpenMmioBus(path, t.size)
	if err != nil {
		return nil, cfg, err
	}
	klog.V(priv.DBG_LVL_INFO).InfoS("priv-util target", "path", path, "size", t.size)
	return bus, cfg, nil
}

// parse a register address or data word, hex with 0x or decimal
func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bad value %q", s)
	}
	return uint32(v), nil
}
