// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the register map used by the priv access layer: the CSB error
// reporting registers, the BAR0 master sequencer and the PTIMER counters.
package priv

import (
	"fmt"
)

const (
	DBG_LVL_DEFAULT     = iota //0
	DBG_LVL_BASIC              //1
	DBG_LVL_INFO               //2
	DBG_LVL_DETAIL             //3
	DBG_LVL_DEEP_DETAIL        //4
)

// PTIMER is a free running nanosecond counter split over two registers.
const (
	LW_PTIMER_TIME_0 = 0x00009400 // bits 31:0
	LW_PTIMER_TIME_1 = 0x00009410 // bits 63:32, holds a 0xBADxxxxx pattern for long stretches
)

// A priv error is reported on the bus by returning a 0xBADxxxxx word.
const (
	PRIV_ERROR_PATTERN      = 0xBAD00000
	PRIV_ERROR_PATTERN_MASK = 0xFFF00000
)

// falcon-local CSB error reporting registers
const (
	LW_CSB_ERRSTAT = 0x00001280 // error status, VALID set on a failed transaction (RW)
	LW_CSB_ERRINFO = 0x00001284 // priv error info word of the failed transaction (R)
	LW_CSB_ERRADDR = 0x00001288 // address of the failed transaction (RW)

	LW_CSB_ERRSTAT_RESET_VALUE = 0x00000000
	LW_CSB_ERRSTAT_VALID_FALSE = 0
	LW_CSB_ERRSTAT_VALID_TRUE  = 1
)

// falcon-local BAR0 master registers
const (
	LW_CSB_BAR0_ADDR  = 0x00001700 // BAR0 target address (W)
	LW_CSB_BAR0_DATA  = 0x00001704 // write data / read result (RW)
	LW_CSB_BAR0_TMOUT = 0x00001708 // transaction timeout in cycles (RW)
	LW_CSB_BAR0_CSR   = 0x0000170C // control and status (RW)
)

// Default split between the CSB aperture and BAR0 forwarded addresses.
const LW_CSB_CUTOFF = 0x00010000

type u32field struct {
	offset   int
	bitwidth int
}

func (u *u32field) mask() uint32 {
	return (1<<u.bitwidth - 1) << u.offset
}

func (u *u32field) read(reg uint32) uint32 {
	return (reg >> u.offset) & (1<<u.bitwidth - 1)
}

func (u *u32field) write(reg *uint32, val uint32) {
	*reg = (*reg &^ u.mask()) | ((val << u.offset) & u.mask())
}

var (
	LW_CSB_ERRSTAT_ERROR_CODE = u32field{offset: 0, bitwidth: 8}
	LW_CSB_ERRSTAT_WRITE      = u32field{offset: 30, bitwidth: 1}
	LW_CSB_ERRSTAT_VALID      = u32field{offset: 31, bitwidth: 1}

	LW_CSB_BAR0_CSR_CMD     = u32field{offset: 0, bitwidth: 2}
	LW_CSB_BAR0_CSR_BYTE_EN = u32field{offset: 4, bitwidth: 4}
	LW_CSB_BAR0_CSR_STATUS  = u32field{offset: 12, bitwidth: 3}
	LW_CSB_BAR0_CSR_TRIG    = u32field{offset: 31, bitwidth: 1}
)

// Bar0Cmd is the command field of the BAR0 master CSR.
type Bar0Cmd uint32

const (
	BAR0_CMD_READ         Bar0Cmd = 1
	BAR0_CMD_WRITE        Bar0Cmd = 2
	BAR0_CMD_WRITE_POSTED Bar0Cmd = 3
)

// Bar0Status is the status field of the BAR0 master CSR.
type Bar0Status uint32

const (
	BAR0_STATUS_IDLE Bar0Status = iota
	BAR0_STATUS_PENDING
	BAR0_STATUS_BUSY
	BAR0_STATUS_TMOUT
	BAR0_STATUS_ERR
)

func (s Bar0Status) String() string {
	switch s {
	case BAR0_STATUS_IDLE:
		return "IDLE"
	case BAR0_STATUS_PENDING:
		return "PENDING"
	case BAR0_STATUS_BUSY:
		return "BUSY"
	case BAR0_STATUS_TMOUT:
		return "TMOUT"
	case BAR0_STATUS_ERR:
		return "ERR"
	}
	return fmt.Sprintf("Bar0Status(%d)", uint32(s))
}

// Layout of the CSB error snapshot words, decoded with BitFieldRead.
type CSB_ERRSTAT struct {
	Error_Code bitfield_8b
	Reserved   bitfield_22b
	Write      bitfield_1b
	Valid      bitfield_1b
}

type CSB_ERRINFO struct {
	Error_Type bitfield_8b
	Priv_Level bitfield_2b
	Reserved   bitfield_6b
	Source_ID  bitfield_8b
	Fecs_Code  bitfield_8b
}

func isPrivErrorPattern(val uint32) bool {
	return val&PRIV_ERROR_PATTERN_MASK == PRIV_ERROR_PATTERN
}

// Wrapper function to shorten int to hex convertion call
func hex(a any) string {
	return fmt.Sprintf("%X", a)
}
