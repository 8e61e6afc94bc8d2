// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package priv

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProfileBase = 0x00008000

func newTestProfiler() (*PrivProfiler, *fakeBus, *MemoryMailbox) {
	bus := newFakeBus()
	mb := &MemoryMailbox{}
	p := NewPrivProfiler(bus, mb, testProfileBase)
	p.Reset()
	return p, bus, mb
}

func TestProfilerReset(t *testing.T) {
	p, _, mb := newTestProfiler()

	assert.True(t, p.Enabled())
	assert.Equal(t, 1, p.Index())
	assert.Equal(t, PrivProfilingLogEntry{Addr: testProfileBase, Data: 1}, p.Entries()[0])
	assert.Equal(t, uint32(testProfileBase), mb.ReadMailbox(MB_PROFILE_BASE))
	assert.Equal(t, uint32(PRIV_BUFFER_SIZE*PRIV_PROFILE_ENTRY_LEN), mb.ReadMailbox(MB_PROFILE_SIZE))
	assert.Zero(t, mb.ReadMailbox(MB_PROFILE_COUNT))

	var nilProfiler *PrivProfiler
	assert.False(t, nilProfiler.Enabled())
}

func TestProfilerCoalescesRepeatedReads(t *testing.T) {
	p, bus, _ := newTestProfiler()
	bus.regs[LW_PTIMER_TIME_0] = 0x55

	for i := 0; i < 5; i++ {
		p.PreRead(0x100, true)
		p.Post(uint32(i))
	}
	assert.Equal(t, 2, p.Index())
	e := p.Entries()[1]
	assert.Equal(t, uint32(0x100), e.Addr)
	assert.Equal(t, uint32(5), e.Count)
	assert.Equal(t, uint32(4), e.Data)
	assert.Equal(t, uint32(0x55), e.StartTime)
	assert.True(t, e.IsRead())
	assert.True(t, e.IsBlocking())
	assert.Equal(t, uint32(2), p.Entries()[0].Data)

	flags, err := e.DecodeFlags()
	require.NoError(t, err)
	assert.Equal(t, PrivProfileFlags{Index: 1, Blocking: 1, Read: 1}, flags)
}

func TestProfilerDoesNotCoalesceWrites(t *testing.T) {
	p, _, _ := newTestProfiler()

	for i := 0; i < 3; i++ {
		p.PreWrite(0x100, false)
		p.Post(uint32(i))
	}
	p.PreRead(0x100, false)
	p.Post(0x9)
	p.PreRead(0x104, false)
	p.Post(0xA)

	assert.Equal(t, 6, p.Index())
	entries := p.Entries()
	for i := 1; i <= 3; i++ {
		assert.False(t, entries[i].IsRead())
		assert.Equal(t, uint32(1), entries[i].Count)
		assert.Equal(t, uint32(i-1), entries[i].Data)
	}
	assert.True(t, entries[4].IsRead())
	assert.Equal(t, uint32(0x104), entries[5].Addr)
}

func TestProfilerSaturates(t *testing.T) {
	p, _, _ := newTestProfiler()

	for i := 0; i < PRIV_BUFFER_SIZE-1; i++ {
		p.PreWrite(uint32(4*i), false)
		p.Post(uint32(i))
	}
	assert.False(t, p.Enabled())
	assert.Equal(t, PRIV_BUFFER_SIZE, p.Index())
	full := p.Entries()
	assert.Equal(t, uint32(4*(PRIV_BUFFER_SIZE-2)), full[PRIV_BUFFER_SIZE-1].Addr)

	for i := 0; i < 10; i++ {
		p.PreWrite(0xF00, false)
		p.Post(0xF00)
		p.PreRead(0xF04, true)
		p.Post(0xF04)
	}
	assert.Equal(t, PRIV_BUFFER_SIZE, p.Index())
	if diff := cmp.Diff(full, p.Entries()); diff != "" {
		t.Errorf("entries changed after saturation (-want +got):\n%s", diff)
	}
}

func TestProfilerReadCheck(t *testing.T) {
	p, bus, mb := newTestProfiler()
	bus.regs[0x200] = 0x11

	require.NoError(t, p.ReadCheck(0x200, 0x11, 3))
	halted, _ := mb.Halted()
	assert.False(t, halted)

	err := p.ReadCheck(0x200, 0x12, 3)
	var halt *HaltError
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, ErrorCodeReadCheckMismatch, halt.Code)
	assert.Equal(t, uint32(0x200), mb.ReadMailbox(MB_ADDR))
	assert.Equal(t, uint32(0x12), mb.ReadMailbox(MB_DATA))
	assert.Equal(t, uint32(0x11), mb.ReadMailbox(MB_REQ_TIME))
	assert.Equal(t, uint32(3), mb.ReadMailbox(MB_RETRY_COUNT))
	halted, code := mb.Halted()
	assert.True(t, halted)
	assert.Equal(t, ErrorCodeReadCheckMismatch, code)
}

func TestProfileEncodeDecode(t *testing.T) {
	p, _, _ := newTestProfiler()
	p.PreWrite(0x10, true)
	p.Post(1)
	p.PreRead(0x14, false)
	p.Post(2)
	p.PreWrite(0x18, true)
	p.Post(3)

	var buf bytes.Buffer
	require.NoError(t, p.EncodeProfile(&buf))
	assert.Equal(t, PRIV_BUFFER_SIZE*PRIV_PROFILE_ENTRY_LEN, buf.Len())

	header, entries, err := DecodeProfile(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(testProfileBase), header.Addr)
	assert.Equal(t, uint32(4), header.Data)
	if diff := cmp.Diff(p.Entries()[1:4], entries); diff != "" {
		t.Errorf("decoded entries mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeProfileRejectsBadHeader(t *testing.T) {
	_, _, err := DecodeProfile(bytes.NewReader(make([]byte, PRIV_PROFILE_ENTRY_LEN)))
	assert.Error(t, err)

	_, _, err = DecodeProfile(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestAccessorProfilesTransactions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiling = true
	cfg.ProfileBase = testProfileBase
	a, bus, mb, _ := newTestAccessor(cfg)
	require.NotNil(t, a.Profiler())
	assert.Equal(t, uint32(testProfileBase), mb.ReadMailbox(MB_PROFILE_BASE))
	bus.regs[0x300] = 0x77

	_, err := a.Read(0x300)
	require.NoError(t, err)
	_, err = a.Read(0x300)
	require.NoError(t, err)
	require.NoError(t, a.Write(0x304, 0x88))
	assert.Equal(t, 3, a.Profiler().Index())

	entries := a.Profiler().Entries()
	assert.Equal(t, uint32(2), entries[1].Count)
	assert.Equal(t, uint32(0x77), entries[1].Data)
	assert.Equal(t, uint32(0x88), entries[2].Data)

	// a transaction that halts is never posted
	bus.stuck[LW_CSB_ERRSTAT] = errStatValid(1)
	_, err = a.Read(0x308)
	require.Error(t, err)
	assert.Equal(t, 3, a.Profiler().Index())
}

func TestReadCheckMismatchHaltsAccessor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Profiling = true
	cfg.ProfileBase = testProfileBase
	a, bus, _, _ := newTestAccessor(cfg)
	bus.regs[0x200] = 0x11
	bus.regs[0x300] = 0x77

	require.NoError(t, a.ReadCheck(0x200, 0x11, 0))
	first := a.Profiler().ReadCheck(0x200, 0x12, 0)
	var halt *HaltError
	require.ErrorAs(t, first, &halt)
	assert.Equal(t, ErrorCodeReadCheckMismatch, halt.Code)

	_, err := a.Read(0x300)
	assert.Equal(t, first, err)
	assert.Equal(t, first, a.Write(0x304, 1))
	assert.Equal(t, first, a.ReadCheck(0x200, 0x11, 0))
	assert.Zero(t, bus.loadCount(0x300))
	assert.Empty(t, bus.storesTo(0x304))
}
