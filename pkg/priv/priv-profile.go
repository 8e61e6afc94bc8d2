// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the priv profiling buffer, a bounded trail of recent bus
// transactions kept for post-mortem inspection. It only uses raw bus accesses so that
// logging a transaction never recurses into the checked access path.
package priv

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	PRIV_BUFFER_SIZE       = 128 // slots, including the header slot 0
	PRIV_PROFILE_ENTRY_LEN = 20  // bytes per slot in a dump
)

var (
	PRIV_PROFILE_FLAGS_INDEX    = u32field{offset: 0, bitwidth: 16}
	PRIV_PROFILE_FLAGS_BLOCKING = u32field{offset: 30, bitwidth: 1}
	PRIV_PROFILE_FLAGS_READ     = u32field{offset: 31, bitwidth: 1}
)

// PrivProfilingLogEntry is one slot of the buffer. Slot 0 is a header holding the
// buffer base address in Addr and the current index in Data.
type PrivProfilingLogEntry struct {
	StartTime uint32
	Addr      uint32
	Data      uint32
	Count     uint32
	Flags     uint32
}

// PrivProfileFlags is the decoded form of PrivProfilingLogEntry.Flags.
type PrivProfileFlags struct {
	Index    bitfield_16b
	Reserved bitfield_14b
	Blocking bitfield_1b
	Read     bitfield_1b
}

func (e *PrivProfilingLogEntry) IsRead() bool {
	return PRIV_PROFILE_FLAGS_READ.read(e.Flags) == 1
}

func (e *PrivProfilingLogEntry) IsBlocking() bool {
	return PRIV_PROFILE_FLAGS_BLOCKING.read(e.Flags) == 1
}

// PrivProfiler owns the buffer, its write index and the record being built.
type PrivProfiler struct {
	bus     Bus
	sink    DiagnosticSink
	base    uint32
	entries [PRIV_BUFFER_SIZE]PrivProfilingLogEntry
	index   int
	enabled bool

	active     PrivProfilingLogEntry
	activeSet  bool
	activeSlot int // slot the active record was posted to, 0 while pending

	onHalt func(*HaltError)
}

func NewPrivProfiler(bus Bus, sink DiagnosticSink, base uint32) *PrivProfiler {
	return &PrivProfiler{bus: bus, sink: sink, base: base}
}

// Reset zeroes the buffer, enables logging and publishes the buffer in the mailboxes.
func (p *PrivProfiler) Reset() {
	p.entries = [PRIV_BUFFER_SIZE]PrivProfilingLogEntry{}
	p.index = 1
	p.enabled = true
	p.active = PrivProfilingLogEntry{}
	p.activeSet = false
	p.activeSlot = 0
	p.entries[0].Addr = p.base
	p.entries[0].Data = uint32(p.index)

	p.sink.WriteMailbox(MB_PROFILE_BASE, p.base)
	p.sink.WriteMailbox(MB_PROFILE_SIZE, PRIV_BUFFER_SIZE*PRIV_PROFILE_ENTRY_LEN)
	p.sink.WriteMailbox(MB_PROFILE_COUNT, 0)
	klog.V(DBG_LVL_INFO).InfoS("priv-profile.Reset", "base", hex(p.base), "slots", PRIV_BUFFER_SIZE)
}

func (p *PrivProfiler) Enabled() bool {
	return p != nil && p.enabled
}

func (p *PrivProfiler) Index() int {
	return p.index
}

// return a copy of every slot, header included
func (p *PrivProfiler) Entries() []PrivProfilingLogEntry {
	out := make([]PrivProfilingLogEntry, PRIV_BUFFER_SIZE)
	copy(out, p.entries[:])
	return out
}

// PreRead opens a read record. A read of the same address as the previous record
// only bumps that record's count, so polling loops take a single slot.
func (p *PrivProfiler) PreRead(addr uint32, blocking bool) {
	if !p.Enabled() {
		return
	}
	if p.activeSet && p.active.IsRead() && p.active.Addr == addr {
		p.active.Count++
		if p.activeSlot != 0 {
			p.entries[p.activeSlot].Count = p.active.Count
		}
		return
	}
	p.open(addr, blocking, true)
}

// PreWrite always opens a new record.
func (p *PrivProfiler) PreWrite(addr uint32, blocking bool) {
	if !p.Enabled() {
		return
	}
	p.open(addr, blocking, false)
}

func (p *PrivProfiler) open(addr uint32, blocking, read bool) {
	p.active = PrivProfilingLogEntry{
		StartTime: p.bus.Load(LW_PTIMER_TIME_0),
		Addr:      addr,
		Count:     1,
	}
	if blocking {
		PRIV_PROFILE_FLAGS_BLOCKING.write(&p.active.Flags, 1)
	}
	if read {
		PRIV_PROFILE_FLAGS_READ.write(&p.active.Flags, 1)
	}
	p.activeSet = true
	p.activeSlot = 0
}

// Post finalizes the active record into the next slot. Logging stops for good once
// the last slot is used, nothing is overwritten.
func (p *PrivProfiler) Post(data uint32) {
	if !p.Enabled() || !p.activeSet {
		return
	}
	p.active.Data = data
	if p.activeSlot != 0 {
		// coalesced read, the slot is already allocated
		p.entries[p.activeSlot].Data = data
		return
	}
	slot := p.index
	PRIV_PROFILE_FLAGS_INDEX.write(&p.active.Flags, uint32(slot))
	p.entries[slot] = p.active
	p.activeSlot = slot
	p.index++
	p.entries[0].Data = uint32(p.index)
	if p.index >= PRIV_BUFFER_SIZE {
		p.enabled = false
		klog.V(DBG_LVL_BASIC).InfoS("priv-profile.Post buffer full, logging disabled", "slots", PRIV_BUFFER_SIZE)
	}
}

// ReadCheck reads back addr and halts if it does not hold data.
func (p *PrivProfiler) ReadCheck(addr, data uint32, idx int) error {
	got := p.bus.Load(addr)
	if got == data {
		return nil
	}
	p.sink.WriteMailbox(MB_ADDR, addr)
	p.sink.WriteMailbox(MB_DATA, data)
	p.sink.WriteMailbox(MB_REQ_TIME, got)
	p.sink.WriteMailbox(MB_RETRY_COUNT, uint32(idx))
	halt := haltSink(p.sink, ErrorCodeReadCheckMismatch, addr)
	if p.onHalt != nil {
		p.onHalt(halt)
	}
	return halt
}

// DecodeProfile parses a little endian dump of the buffer. It returns the header and
// the entries the header index marks as valid.
func DecodeProfile(r io.Reader) (PrivProfilingLogEntry, []PrivProfilingLogEntry, error) {
	var header PrivProfilingLogEntry
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return header, nil, errors.Wrap(err, "decode profile header")
	}
	count := int(header.Data)
	if count < 1 || count > PRIV_BUFFER_SIZE {
		return header, nil, errors.Errorf("decode profile: bad index %d", count)
	}
	entries := make([]PrivProfilingLogEntry, count-1)
	if err := binary.Read(r, binary.LittleEndian, entries); err != nil {
		return header, nil, errors.Wrap(err, "decode profile entries")
	}
	return header, entries, nil
}

// EncodeProfile writes the buffer in the layout DecodeProfile reads.
func (p *PrivProfiler) EncodeProfile(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, p.entries[:])
}

// return the decoded flags of an entry
func (e *PrivProfilingLogEntry) DecodeFlags() (PrivProfileFlags, error) {
	return parseWord(e.Flags, PrivProfileFlags{})
}
