// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the BAR0 master sequencer, used to reach priv registers outside of
// the CSB aperture.
package priv

import (
	"time"

	"github.com/jpillora/backoff"
	"k8s.io/klog/v2"
)

// Bar0Master forwards transactions through the falcon BAR0 master registers. The
// master cannot address CSB registers, so those are redirected to the checked CSB path.
type Bar0Master struct {
	a *Accessor
}

func (m *Bar0Master) Read(addr uint32) (uint32, error) {
	if m.a.halted != nil {
		return 0, m.a.halted
	}
	return m.read(addr)
}

func (m *Bar0Master) Write(addr, data uint32) error {
	if m.a.halted != nil {
		return m.a.halted
	}
	return m.write(addr, data, BAR0_CMD_WRITE)
}

// WritePosted does not wait for the write to land when the chip allows it.
func (m *Bar0Master) WritePosted(addr, data uint32) error {
	if m.a.halted != nil {
		return m.a.halted
	}
	return m.write(addr, data, BAR0_CMD_WRITE_POSTED)
}

func (m *Bar0Master) read(addr uint32) (uint32, error) {
	if addr < m.a.cfg.CSBCutoff {
		return m.a.csbRead(addr)
	}
	//1. Wait for the master to be idle
	if err := m.bar0_wait_idle(addr); err != nil {
		return 0, err
	}
	//2. Program the address and trigger the read
	if err := m.a.csbWrite(LW_CSB_BAR0_ADDR, addr); err != nil {
		return 0, err
	}
	if err := m.bar0_trigger(BAR0_CMD_READ); err != nil {
		return 0, err
	}
	//3. Wait for completion and fetch the data
	if err := m.bar0_wait_idle(addr); err != nil {
		return 0, err
	}
	val, err := m.a.csbRead(LW_CSB_BAR0_DATA)
	if err != nil {
		return 0, err
	}
	klog.V(DBG_LVL_DEEP_DETAIL).InfoS("priv-bar0.read", "addr", hex(addr), "val", hex(val))
	return val, nil
}

func (m *Bar0Master) write(addr, data uint32, cmd Bar0Cmd) error {
	if addr < m.a.cfg.CSBCutoff {
		return m.a.csbWrite(addr, data)
	}
	if err := m.bar0_wait_idle(addr); err != nil {
		return err
	}
	if err := m.a.csbWrite(LW_CSB_BAR0_ADDR, addr); err != nil {
		return err
	}
	if err := m.a.csbWrite(LW_CSB_BAR0_DATA, data); err != nil {
		return err
	}
	if err := m.bar0_trigger(cmd); err != nil {
		return err
	}
	klog.V(DBG_LVL_DEEP_DETAIL).InfoS("priv-bar0.write", "addr", hex(addr), "data", hex(data), "cmd", cmd)
	if cmd == BAR0_CMD_WRITE_POSTED && m.a.cfg.PostedWriteNoIdleWait {
		return nil
	}
	return m.bar0_wait_idle(addr)
}

func (m *Bar0Master) bar0_trigger(cmd Bar0Cmd) error {
	var csr uint32
	LW_CSB_BAR0_CSR_CMD.write(&csr, uint32(cmd))
	LW_CSB_BAR0_CSR_BYTE_EN.write(&csr, 0xF)
	LW_CSB_BAR0_CSR_TRIG.write(&csr, 1)
	return m.a.csbWrite(LW_CSB_BAR0_CSR, csr)
}

// bar0_wait_idle polls the CSR until IDLE. TMOUT and ERR halt right away.
func (m *Bar0Master) bar0_wait_idle(addr uint32) error {
	b := &backoff.Backoff{
		Min:    time.Microsecond,
		Max:    m.a.cfg.Bar0PollMaxDelay,
		Factor: 2,
		Jitter: false,
	}
	for {
		csr, err := m.a.csbRead(LW_CSB_BAR0_CSR)
		if err != nil {
			return err
		}
		status := Bar0Status(LW_CSB_BAR0_CSR_STATUS.read(csr))
		switch status {
		case BAR0_STATUS_IDLE:
			return nil
		case BAR0_STATUS_TMOUT:
			m.dumpStatus(addr, csr)
			return m.a.halt(ErrorCodeBar0Timeout, addr)
		case BAR0_STATUS_ERR:
			m.dumpStatus(addr, csr)
			return m.a.halt(ErrorCodeBar0Error, addr)
		}
		if int(b.Attempt())+1 >= m.a.cfg.Bar0PollLimit {
			m.dumpStatus(addr, csr)
			return m.a.halt(ErrorCodeBar0PollTimeout, addr)
		}
		klog.V(DBG_LVL_DETAIL).InfoS("priv-bar0.bar0_wait_idle", "addr", hex(addr), "status", status.String(), "attempt", b.Attempt())
		m.a.clk.Sleep(b.Duration())
	}
}

func (m *Bar0Master) dumpStatus(addr, csr uint32) {
	m.a.sink.WriteMailbox(MB_ADDR, addr)
	m.a.sink.WriteMailbox(MB_DATA, csr)
}
