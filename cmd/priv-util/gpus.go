// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaypipes/pcidb"
	"github.com/nvmexp/lw-firmware-sub148/pkg/priv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	PCI_DEVICES_PATH = "/sys/bus/pci/devices"
	NVIDIA_VENDOR_ID = "10de"
)

type gpuInfo struct {
	BDF    string
	Device string
	Name   string
	Class  string
}

// listGpus scans a sysfs PCI devices directory for NVIDIA functions. db may be nil.
func listGpus(root string, db *pcidb.PCIDB) ([]gpuInfo, error) {
	links, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", root)
	}
	gpus := []gpuInfo{}
	for _, link := range links {
		dir := filepath.Join(root, link.Name())
		vendor := readSysfsId(dir, "vendor")
		klog.V(priv.DBG_LVL_DETAIL).InfoS("priv-util.listGpus", "Link", link.Name(), "vendor", vendor)
		if vendor != NVIDIA_VENDOR_ID {
			continue
		}
		g := gpuInfo{
			BDF:    link.Name(),
			Device: readSysfsId(dir, "device"),
			Class:  readSysfsId(dir, "class"),
			Name:   "Unknown Device",
		}
		if db != nil {
			if p, ok := db.Products[NVIDIA_VENDOR_ID+g.Device]; ok {
				g.Name = p.Name
			}
		}
		gpus = append(gpus, g)
	}
	sort.Slice(gpus, func(i, j int) bool { return gpus[i].BDF < gpus[j].BDF })
	return gpus, nil
}

// read a sysfs id attribute such as "0x10de\n" and return "10de"
func readSysfsId(dir, attr string) string {
	b, err := os.ReadFile(filepath.Join(dir, attr))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSpace(string(b)), "0x")
}
