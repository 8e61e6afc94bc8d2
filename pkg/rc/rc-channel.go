// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements Channel, one GPU command submission stream and the sticky error
// it reports once recovery has failed it.
package rc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type Channel struct {
	hClient  Handle
	hChannel Handle
	dev      Device
	tsg      *Tsg
	helper   *RcHelper // own helper, nil for TSG members

	mu  sync.Mutex
	err ErrorCode
}

// NewChannel allocates a standalone channel with its own RcHelper and registers it for
// callback dispatch.
func NewChannel(hClient, hChannel Handle, dev Device, notifier *NvNotification, cfg Config) (*Channel, error) {
	helper, err := NewRcHelper(hClient, hChannel, dev, notifier, cfg)
	if err != nil {
		return nil, err
	}
	ch := &Channel{hClient: hClient, hChannel: hChannel, dev: dev, helper: helper}
	if err := registerChannel(ch); err != nil {
		return nil, err
	}
	klog.V(DBG_LVL_INFO).InfoS("rc-channel.NewChannel", "hClient", hClient, "hChannel", hChannel)
	return ch, nil
}

func (c *Channel) Handle() Handle {
	return c.hChannel
}

func (c *Channel) Client() Handle {
	return c.hClient
}

// return the owning TSG, nil for a standalone channel
func (c *Channel) Tsg() *Tsg {
	return c.tsg
}

// GetRcHelper returns the helper that detects errors for this channel, the TSG's one
// for a TSG member.
func (c *Channel) GetRcHelper() *RcHelper {
	if c.tsg != nil {
		return c.tsg.GetRcHelper()
	}
	return c.helper
}

func (c *Channel) GetError() ErrorCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetError records code unless an error is already recorded. Errors are never cleared.
func (c *Channel) SetError(code ErrorCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != OK || code == OK {
		return
	}
	c.err = code
	klog.V(DBG_LVL_BASIC).InfoS("rc-channel.SetError", "hChannel", c.hChannel, "error", code.String())
}

// CheckError runs any pending recovery for the channel, or its whole TSG, and returns
// the sticky error.
func (c *Channel) CheckError(ctx context.Context) ErrorCode {
	if c.tsg != nil {
		c.tsg.UpdateError(ctx)
	} else {
		updateError(ctx, c.helper, c.dev, []*Channel{c})
	}
	return c.GetError()
}

// RecoverFromRobustChannelError flushes the helper and recovers the channel. It returns
// the first failure of, in order: the flush, the device recovery, the flushed error.
func (c *Channel) RecoverFromRobustChannelError(ctx context.Context) ErrorCode {
	h := c.GetRcHelper()

	//1. Consume whatever the RM reported
	flushed, err := h.flush(ctx, h.Config().FlushTimeout)
	if err != nil {
		klog.V(DBG_LVL_BASIC).InfoS("rc-channel flush failed", "hChannel", c.hChannel, "err", err)
		return ToErrorCode(err)
	}

	//2. Let the device bring the channel back
	if err := c.dev.RecoverChannel(ctx, c.hClient, c.hChannel); err != nil {
		klog.V(DBG_LVL_BASIC).InfoS("rc-channel device recovery failed", "hChannel", c.hChannel, "err", err)
		return ToErrorCode(err)
	}

	//3. The hardware error itself fails the channel
	return flushed
}

// Free unregisters a standalone channel. TSG members are freed with their TSG.
func (c *Channel) Free() error {
	if c.tsg != nil {
		return errors.Errorf("channel 0x%X belongs to TSG 0x%X", uint32(c.hChannel), uint32(c.tsg.hTsg))
	}
	unregisterChannel(c)
	return nil
}
