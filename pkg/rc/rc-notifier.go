// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the error notifier, the shared memory block the RM writes when a
// robust channel error hits a channel that was allocated with one.
package rc

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// Status value the RM writes when an error is pending.
const RC_NOTIFIER_ERROR_PENDING = 0xFFFF

const NV_NOTIFICATION_SIZE = 16

// NvNotification is the notifier memory layout. The last word holds info16 in bits 15:0
// and status in bits 31:16.
type NvNotification struct {
	TimeStamp    [2]uint32
	info32       uint32
	info16Status uint32
}

// MapNotification overlays a notifier on mapped memory.
func MapNotification(mem []byte) (*NvNotification, error) {
	if len(mem) < NV_NOTIFICATION_SIZE {
		return nil, errors.Errorf("notifier memory too small: %d bytes", len(mem))
	}
	if uintptr(unsafe.Pointer(&mem[0]))&3 != 0 {
		return nil, errors.New("notifier memory is not 32bit aligned")
	}
	return (*NvNotification)(unsafe.Pointer(&mem[0])), nil
}

func (n *NvNotification) Status() uint32 {
	return atomic.LoadUint32(&n.info16Status) >> 16
}

func (n *NvNotification) Info16() uint32 {
	return atomic.LoadUint32(&n.info16Status) & 0xFFFF
}

func (n *NvNotification) Info32() uint32 {
	return atomic.LoadUint32(&n.info32)
}

// SetStatus replaces the status half word, leaving info16 untouched.
func (n *NvNotification) SetStatus(status uint32) {
	for {
		old := atomic.LoadUint32(&n.info16Status)
		word := (old & 0xFFFF) | (status&0xFFFF)<<16
		if atomic.CompareAndSwapUint32(&n.info16Status, old, word) {
			return
		}
	}
}

// Raise posts an error the way the RM does: info first, then the pending status.
func (n *NvNotification) Raise(errType RmErrorType) {
	atomic.StoreUint32(&n.info32, uint32(errType))
	n.SetStatus(RC_NOTIFIER_ERROR_PENDING)
}
