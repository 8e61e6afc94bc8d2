// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the diagnostic mailbox contract. The firmware has no OS to report
// to, so every failing transaction is dumped into fixed mailbox slots before halting and
// host tooling reads them back from the stopped device.
package priv

import (
	"encoding/json"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// Mailbox slot indexes. The layout is read by host tools and must not move.
const (
	MB_HALT_CODE       = 0  // error code passed to the halt
	MB_WRITE_ERR_COUNT = 1  // incremented on every failed checked write
	MB_PROFILE_BASE    = 2  // base address of the priv profiling buffer
	MB_PROFILE_SIZE    = 3  // size of the priv profiling buffer in bytes
	MB_PROFILE_COUNT   = 4  // number of valid profiling entries at reset
	MB_ADDR            = 6  // faulting bus address
	MB_DATA            = 7  // data read or written
	MB_REQ_TIME        = 8  // PTIMER0 at request
	MB_RESP_TIME       = 9  // PTIMER0 at response
	MB_RETRY_COUNT     = 10 // attempts made so far
	MB_ERRSTAT         = 11 // raw LW_CSB_ERRSTAT
	MB_ERRINFO         = 12 // raw LW_CSB_ERRINFO
	MB_ERRADDR         = 13 // raw LW_CSB_ERRADDR

	MAILBOX_COUNT = 16
)

// ErrorCode is the code a halted firmware leaves in MB_HALT_CODE.
type ErrorCode uint32

const (
	ErrorCodeNone              ErrorCode = 0x00
	ErrorCodePrivReadError     ErrorCode = 0xE1
	ErrorCodePrivWriteError    ErrorCode = 0xE2
	ErrorCodeBar0Timeout       ErrorCode = 0xE3
	ErrorCodeBar0Error         ErrorCode = 0xE4
	ErrorCodeBar0PollTimeout   ErrorCode = 0xE5
	ErrorCodeReadCheckMismatch ErrorCode = 0xE6
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeNone:
		return "NONE"
	case ErrorCodePrivReadError:
		return "PRIV_READ_ERROR"
	case ErrorCodePrivWriteError:
		return "PRIV_WRITE_ERROR"
	case ErrorCodeBar0Timeout:
		return "BAR0_TIMEOUT"
	case ErrorCodeBar0Error:
		return "BAR0_ERROR"
	case ErrorCodeBar0PollTimeout:
		return "BAR0_POLL_TIMEOUT"
	case ErrorCodeReadCheckMismatch:
		return "READ_CHECK_MISMATCH"
	}
	return fmt.Sprintf("ErrorCode(0x%X)", uint32(c))
}

// DiagnosticSink receives the mailbox dump and the final halt.
type DiagnosticSink interface {
	WriteMailbox(idx int, val uint32)
	ReadMailbox(idx int) uint32
	Halt(code ErrorCode)
}

// MemoryMailbox is an in-memory DiagnosticSink, used by tests and simulations.
type MemoryMailbox struct {
	mu       sync.Mutex
	regs     [MAILBOX_COUNT]uint32
	halted   bool
	haltCode ErrorCode
}

func (m *MemoryMailbox) WriteMailbox(idx int, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[idx] = val
}

func (m *MemoryMailbox) ReadMailbox(idx int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[idx]
}

func (m *MemoryMailbox) Halt(code ErrorCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
	m.haltCode = code
}

// Halted reports whether Halt was called, and with which code.
func (m *MemoryMailbox) Halted() (bool, ErrorCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltCode
}

// BusMailbox places the mailbox slots at consecutive words of a raw bus, starting at base.
type BusMailbox struct {
	bus  Bus
	base uint32
}

func NewBusMailbox(bus Bus, base uint32) *BusMailbox {
	return &BusMailbox{bus: bus, base: base}
}

func (m *BusMailbox) WriteMailbox(idx int, val uint32) {
	m.bus.Store(m.base+uint32(4*idx), val)
}

func (m *BusMailbox) ReadMailbox(idx int) uint32 {
	return m.bus.Load(m.base + uint32(4*idx))
}

// Halt only logs. A host process cannot trap, the caller gets a HaltError.
func (m *BusMailbox) Halt(code ErrorCode) {
	klog.ErrorS(nil, "priv-mailbox halt", "code", code.String(), "base", hex(m.base))
}

// PrivDiagnostics is the host side view of the mailbox contract.
type PrivDiagnostics struct {
	HaltCode      ErrorCode
	WriteErrCount uint32
	ProfileBase   uint32
	ProfileSize   uint32
	ProfileCount  uint32
	Addr          uint32
	Data          uint32
	ReqTime       uint32
	RespTime      uint32
	RetryCount    uint32
	ErrStat       CSB_ERRSTAT
	ErrInfo       CSB_ERRINFO
	ErrAddr       uint32
}

// ReadDiagnostics collects the mailbox slots and decodes the error register snapshots.
func ReadDiagnostics(sink DiagnosticSink) (*PrivDiagnostics, error) {
	d := &PrivDiagnostics{
		HaltCode:      ErrorCode(sink.ReadMailbox(MB_HALT_CODE)),
		WriteErrCount: sink.ReadMailbox(MB_WRITE_ERR_COUNT),
		ProfileBase:   sink.ReadMailbox(MB_PROFILE_BASE),
		ProfileSize:   sink.ReadMailbox(MB_PROFILE_SIZE),
		ProfileCount:  sink.ReadMailbox(MB_PROFILE_COUNT),
		Addr:          sink.ReadMailbox(MB_ADDR),
		Data:          sink.ReadMailbox(MB_DATA),
		ReqTime:       sink.ReadMailbox(MB_REQ_TIME),
		RespTime:      sink.ReadMailbox(MB_RESP_TIME),
		RetryCount:    sink.ReadMailbox(MB_RETRY_COUNT),
		ErrAddr:       sink.ReadMailbox(MB_ERRADDR),
	}
	var err error
	if d.ErrStat, err = parseWord(sink.ReadMailbox(MB_ERRSTAT), CSB_ERRSTAT{}); err != nil {
		return nil, err
	}
	if d.ErrInfo, err = parseWord(sink.ReadMailbox(MB_ERRINFO), CSB_ERRINFO{}); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *PrivDiagnostics) String() string {
	s, _ := json.MarshalIndent(d, "   ", "   ")
	return "priv-mailbox diagnostics:\n" + string(s)
}
