// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements Tsg, a time slice group of channels sharing one error notifier and
// one RcHelper, and the process wide registry used to find a TSG or channel by handle.
package rc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type objectKey struct {
	hClient Handle
	hObject Handle
}

var (
	registryMu  sync.Mutex
	allTsgs     = map[objectKey]*Tsg{}
	allChannels = map[objectKey]*Channel{}
)

func registerChannel(ch *Channel) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := objectKey{ch.hClient, ch.hChannel}
	if _, ok := allChannels[key]; ok {
		return errors.Errorf("channel 0x%X already allocated on client 0x%X", uint32(ch.hChannel), uint32(ch.hClient))
	}
	allChannels[key] = ch
	return nil
}

func unregisterChannel(ch *Channel) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(allChannels, objectKey{ch.hClient, ch.hChannel})
}

// GetTsg returns the registered TSG, nil if there is none.
func GetTsg(hClient, hTsg Handle) *Tsg {
	registryMu.Lock()
	defer registryMu.Unlock()
	return allTsgs[objectKey{hClient, hTsg}]
}

// GetChannel returns the registered channel, standalone or TSG member, nil if there is none.
func GetChannel(hClient, hChannel Handle) *Channel {
	registryMu.Lock()
	defer registryMu.Unlock()
	return allChannels[objectKey{hClient, hChannel}]
}

// DispatchRobustChannelCallback hands an RM callback to the helper owning hObject, which
// may be a TSG, a TSG member channel or a standalone channel.
func DispatchRobustChannelCallback(hClient, hObject Handle, level uint32, errType RmErrorType, data any, cb RecoveryCallback) error {
	var helper *RcHelper
	if tsg := GetTsg(hClient, hObject); tsg != nil {
		helper = tsg.GetRcHelper()
	} else if ch := GetChannel(hClient, hObject); ch != nil {
		helper = ch.GetRcHelper()
	} else {
		return errors.Errorf("no TSG or channel 0x%X on client 0x%X", uint32(hObject), uint32(hClient))
	}
	helper.RobustChannelCallback(level, errType, data, cb)
	return nil
}

type Tsg struct {
	hClient Handle
	hTsg    Handle
	dev     Device
	helper  *RcHelper

	mu       sync.Mutex
	channels []*Channel
}

// NewTsg allocates a TSG and registers it under (hClient, hTsg).
func NewTsg(hClient, hTsg Handle, dev Device, notifier *NvNotification, cfg Config) (*Tsg, error) {
	helper, err := NewRcHelper(hClient, hTsg, dev, notifier, cfg)
	if err != nil {
		return nil, err
	}
	t := &Tsg{hClient: hClient, hTsg: hTsg, dev: dev, helper: helper}
	// the RM cannot reset a TSG handle, callbacks address its first channel
	helper.callbackTarget = t.callbackTarget

	registryMu.Lock()
	defer registryMu.Unlock()
	key := objectKey{hClient, hTsg}
	if _, ok := allTsgs[key]; ok {
		return nil, errors.Errorf("TSG 0x%X already allocated on client 0x%X", uint32(hTsg), uint32(hClient))
	}
	allTsgs[key] = t
	klog.V(DBG_LVL_INFO).InfoS("rc-tsg.NewTsg", "hClient", hClient, "hTsg", hTsg)
	return t, nil
}

func (t *Tsg) Handle() Handle {
	return t.hTsg
}

func (t *Tsg) GetRcHelper() *RcHelper {
	return t.helper
}

func (t *Tsg) callbackTarget() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.channels) == 0 {
		return t.hTsg
	}
	return t.channels[0].hChannel
}

// AddChannel allocates a channel in the TSG on the TSG's client and device.
func (t *Tsg) AddChannel(hChannel Handle) (*Channel, error) {
	ch := &Channel{hClient: t.hClient, hChannel: hChannel, dev: t.dev, tsg: t}
	if err := registerChannel(ch); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.channels = append(t.channels, ch)
	t.mu.Unlock()
	klog.V(DBG_LVL_INFO).InfoS("rc-tsg.AddChannel", "hTsg", t.hTsg, "hChannel", hChannel)
	return ch, nil
}

// return the member channels in allocation order
func (t *Tsg) Channels() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Channel, len(t.channels))
	copy(out, t.channels)
	return out
}

// UpdateError recovers the whole group when an error is pending or the device is being
// reset, and fails every member with the same error.
func (t *Tsg) UpdateError(ctx context.Context) {
	updateError(ctx, t.helper, t.dev, t.Channels())
}

// Free unregisters the TSG and its channels.
func (t *Tsg) Free() {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(allTsgs, objectKey{t.hClient, t.hTsg})
	for _, ch := range t.Channels() {
		delete(allChannels, objectKey{ch.hClient, ch.hChannel})
	}
	klog.V(DBG_LVL_INFO).InfoS("rc-tsg.Free", "hClient", t.hClient, "hTsg", t.hTsg)
}

func updateError(ctx context.Context, helper *RcHelper, dev Device, channels []*Channel) {
	//1. Only one caller recovers, the others rely on it
	holder := NewRecoveryHolder(helper)
	if !holder.TryAcquire() {
		klog.V(DBG_LVL_DETAIL).InfoS("rc-tsg.updateError recovery already running", "hObject", helper.hObject)
		return
	}
	defer holder.Release()

	resetting := dev.ResetInProgress()
	if !helper.DetectNewRobustChannelError() && !resetting {
		return
	}

	//2. Recover every channel, the first failure wins
	result := OK
	if len(channels) == 0 {
		code, err := helper.flush(ctx, helper.Config().FlushTimeout)
		if err != nil {
			code = ToErrorCode(err)
		}
		result = code
	}
	for _, ch := range channels {
		if code := ch.RecoverFromRobustChannelError(ctx); code != OK && result == OK {
			result = code
		}
	}

	//3. A device reset fails the group regardless
	if resetting {
		result = RESET_IN_PROGRESS
	}

	//4. The group fails together
	if result != OK {
		for _, ch := range channels {
			ch.SetError(result)
		}
	}
	rcRecoveries.WithLabelValues(result.String()).Inc()
	klog.V(DBG_LVL_BASIC).InfoS("rc-tsg.updateError", "hObject", helper.hObject, "channels", len(channels), "resetting", resetting, "result", result.String())
}
