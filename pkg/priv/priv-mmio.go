// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements a raw Bus over a memory mapped register aperture, such as the
// BAR0 resource file of a GPU under /sys/bus/pci/devices.
package priv

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Value returned for loads outside of the mapping, what PCIe returns for a master abort.
const MMIO_BAD_READ = 0xFFFFFFFF

type MmioBus struct {
	mmap []byte   // the mapped aperture
	file *os.File // the resource file backing the mapping
}

// OpenMmioBus maps size bytes of the file at path.
func OpenMmioBus(path string, size int) (*MmioBus, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	klog.V(DBG_LVL_INFO).Infof("priv-mmio.OpenMmioBus: %s size 0x%X", path, size)
	mmap, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	klog.V(DBG_LVL_BASIC).Info("priv-mmio.MmioBus initialized")
	return &MmioBus{mmap: mmap, file: file}, nil
}

// return the BAR0 resource path of the PCI function at bdf (domain:bus:dev.fn)
func Bar0ResourcePath(bdf string) string {
	return fmt.Sprintf("/sys/bus/pci/devices/%s/resource0", bdf)
}

func (m *MmioBus) reg(addr uint32) *uint32 {
	if addr&3 != 0 || int(addr)+4 > len(m.mmap) {
		return nil
	}
	// force 32bit access: register apertures do not support narrower loads
	return (*uint32)(unsafe.Pointer(&m.mmap[addr]))
}

func (m *MmioBus) Load(addr uint32) uint32 {
	r := m.reg(addr)
	if r == nil {
		klog.V(DBG_LVL_BASIC).Infof("priv-mmio.Load: address 0x%X outside of the 0x%X byte mapping", addr, len(m.mmap))
		return MMIO_BAD_READ
	}
	return atomic.LoadUint32(r)
}

func (m *MmioBus) Store(addr uint32, data uint32) {
	r := m.reg(addr)
	if r == nil {
		klog.V(DBG_LVL_BASIC).Infof("priv-mmio.Store: address 0x%X outside of the 0x%X byte mapping", addr, len(m.mmap))
		return
	}
	atomic.StoreUint32(r, data)
}

func (m *MmioBus) Size() int {
	return len(m.mmap)
}

func (m *MmioBus) Close() error {
	err := unix.Munmap(m.mmap)
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
