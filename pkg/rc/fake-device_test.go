// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package rc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeDevice struct {
	notifier  bool
	resetting atomic.Bool

	mu         sync.Mutex
	recoverErr map[Handle]error
	recovered  []Handle

	// when set, RecoverChannel signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func newFakeDevice(notifier bool) *fakeDevice {
	return &fakeDevice{notifier: notifier, recoverErr: map[Handle]error{}}
}

func (d *fakeDevice) UsesErrorNotifier() bool {
	return d.notifier
}

func (d *fakeDevice) ResetInProgress() bool {
	return d.resetting.Load()
}

func (d *fakeDevice) RecoverChannel(ctx context.Context, hClient, hChannel Handle) error {
	d.mu.Lock()
	d.recovered = append(d.recovered, hChannel)
	err := d.recoverErr[hChannel]
	entered, release := d.entered, d.release
	d.mu.Unlock()
	if release != nil {
		entered <- struct{}{}
		<-release
	}
	return err
}

func (d *fakeDevice) recoveredChannels() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Handle(nil), d.recovered...)
}

func testConfig() Config {
	return Config{FlushTimeout: time.Second, PollInterval: time.Millisecond}
}

// recoveryLog records the arguments of recovery callbacks.
type recoveryLog struct {
	mu      sync.Mutex
	targets []Handle
	data    []any
}

func (l *recoveryLog) callback(statuses ...NvStatus) RecoveryCallback {
	calls := 0
	return func(hClient, hObject Handle, data any) NvStatus {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.targets = append(l.targets, hObject)
		l.data = append(l.data, data)
		st := NV_OK
		if calls < len(statuses) {
			st = statuses[calls]
		} else if len(statuses) > 0 {
			st = statuses[len(statuses)-1]
		}
		calls++
		return st
	}
}
