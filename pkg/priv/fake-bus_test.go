// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package priv

import (
	"sync"
)

type busStore struct {
	addr uint32
	data uint32
}

// fakeBus is a register file. Loads return, in order of precedence, a stuck value,
// the next scripted value, or the last stored value.
type fakeBus struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	script map[uint32][]uint32
	stuck  map[uint32]uint32
	loads  map[uint32]int
	stores []busStore
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		regs:   map[uint32]uint32{},
		script: map[uint32][]uint32{},
		stuck:  map[uint32]uint32{},
		loads:  map[uint32]int{},
	}
}

func (b *fakeBus) Load(addr uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads[addr]++
	if v, ok := b.stuck[addr]; ok {
		return v
	}
	if q := b.script[addr]; len(q) > 0 {
		b.script[addr] = q[1:]
		return q[0]
	}
	return b.regs[addr]
}

func (b *fakeBus) Store(addr uint32, data uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[addr] = data
	b.stores = append(b.stores, busStore{addr: addr, data: data})
}

func (b *fakeBus) storesTo(addr uint32) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint32
	for _, s := range b.stores {
		if s.addr == addr {
			out = append(out, s.data)
		}
	}
	return out
}

func (b *fakeBus) loadCount(addr uint32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[addr]
}

func errStatValid(code uint32) uint32 {
	var v uint32
	LW_CSB_ERRSTAT_VALID.write(&v, LW_CSB_ERRSTAT_VALID_TRUE)
	LW_CSB_ERRSTAT_ERROR_CODE.write(&v, code)
	return v
}
