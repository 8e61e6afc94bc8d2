// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements RcHelper, the detect and flush contract over the two ways the RM
// reports robust channel errors: a polled error notifier, or a two-stage callback where
// the RM queues the error and the owner later polls the RM's recovery callback.
package rc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Device is the GPU a channel or TSG was allocated on.
type Device interface {
	// UsesErrorNotifier reports whether the RM signals errors through notifier memory.
	UsesErrorNotifier() bool
	// ResetInProgress reports whether a device wide reset is running.
	ResetInProgress() bool
	// RecoverChannel performs the per channel recovery after an error.
	RecoverChannel(ctx context.Context, hClient, hChannel Handle) error
}

// RecoveryCallback is supplied by the RM with each queued error. It returns
// NV_ERR_BUSY_RETRY or NV_ERR_IN_USE until the RM has finished its part of the recovery.
type RecoveryCallback func(hClient, hObject Handle, data any) NvStatus

// RobustChannelError is one queued RM callback invocation.
type RobustChannelError struct {
	ErrorLevel       uint32
	ErrorType        RmErrorType
	Data             any
	RecoveryCallback RecoveryCallback
}

// errorSource is either a *notifierSource or a *callbackSource.
type errorSource interface {
	isErrorSource()
}

type notifierSource struct {
	notifier *NvNotification
}

type callbackSource struct {
	mu    sync.Mutex
	queue []RobustChannelError
}

func (*notifierSource) isErrorSource() {}
func (*callbackSource) isErrorSource() {}

func (s *callbackSource) push(e RobustChannelError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, e)
}

func (s *callbackSource) pop() (RobustChannelError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return RobustChannelError{}, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e, true
}

func (s *callbackSource) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RcHelper is the error detection state of one channel or TSG.
type RcHelper struct {
	hClient Handle
	hObject Handle
	dev     Device
	cfg     Config
	source  errorSource

	// callbackTarget returns the handle passed to recovery callbacks
	callbackTarget func() Handle

	mu          sync.Mutex
	lastFlushed ErrorCode

	inRecovery atomic.Bool
}

// NewRcHelper picks the error source from the device. notifier is only used, and then
// required, when the device reports errors through notifier memory.
func NewRcHelper(hClient, hObject Handle, dev Device, notifier *NvNotification, cfg Config) (*RcHelper, error) {
	h := &RcHelper{
		hClient: hClient,
		hObject: hObject,
		dev:     dev,
		cfg:     cfg,
	}
	h.callbackTarget = func() Handle { return h.hObject }
	if dev.UsesErrorNotifier() {
		if notifier == nil {
			return nil, errors.Errorf("rc-helper: object 0x%X needs an error notifier", uint32(hObject))
		}
		h.source = &notifierSource{notifier: notifier}
	} else {
		h.source = &callbackSource{}
	}
	klog.V(DBG_LVL_INFO).InfoS("rc-helper.NewRcHelper", "hClient", hClient, "hObject", hObject, "notifier", dev.UsesErrorNotifier())
	return h, nil
}

func (h *RcHelper) Config() Config {
	return h.cfg
}

// RobustChannelCallback is the RM entry point. It only queues the error.
func (h *RcHelper) RobustChannelCallback(level uint32, errType RmErrorType, data any, cb RecoveryCallback) {
	switch src := h.source.(type) {
	case *callbackSource:
		src.push(RobustChannelError{ErrorLevel: level, ErrorType: errType, Data: data, RecoveryCallback: cb})
		klog.V(DBG_LVL_DETAIL).InfoS("rc-helper.RobustChannelCallback queued", "hObject", h.hObject, "type", errType.String(), "level", level)
	case *notifierSource:
		klog.V(DBG_LVL_BASIC).InfoS("rc-helper.RobustChannelCallback ignored in notifier mode", "hObject", h.hObject, "type", errType.String())
	}
}

// DetectNewRobustChannelError reports whether an error is waiting to be flushed.
func (h *RcHelper) DetectNewRobustChannelError() bool {
	switch src := h.source.(type) {
	case *notifierSource:
		return src.notifier.Status() == RC_NOTIFIER_ERROR_PENDING
	case *callbackSource:
		return src.pending() > 0
	}
	return false
}

// FlushIncomingErrors consumes every pending error, recording the translated code of
// the last one. A callback that does not settle within timeout yields TIMEOUT_ERROR.
// All queued errors are consumed even after a failure; the first failure is returned.
func (h *RcHelper) FlushIncomingErrors(ctx context.Context, timeout time.Duration) error {
	_, err := h.flush(ctx, timeout)
	return err
}

// flush returns the translated code of the last error it consumed, OK when the source
// was empty. An empty flush keeps the previously recorded code.
func (h *RcHelper) flush(ctx context.Context, timeout time.Duration) (ErrorCode, error) {
	switch src := h.source.(type) {
	case *notifierSource:
		if src.notifier.Status() != RC_NOTIFIER_ERROR_PENDING {
			return OK, nil
		}
		errType := RmErrorType(src.notifier.Info32())
		src.notifier.SetStatus(0)
		return h.record(errType), nil

	case *callbackSource:
		last := OK
		var first error
		for {
			e, ok := src.pop()
			if !ok {
				break
			}
			if err := h.pollRecovery(ctx, timeout, e); err != nil && first == nil {
				first = err
			}
			last = h.record(e.ErrorType)
		}
		return last, first
	}
	return OK, nil
}

// pollRecovery calls the RM recovery callback until it returns a terminal status.
func (h *RcHelper) pollRecovery(ctx context.Context, timeout time.Duration, e RobustChannelError) error {
	if e.RecoveryCallback == nil {
		return nil
	}
	target := h.callbackTarget()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	polls := 0
	op := func() error {
		polls++
		status := e.RecoveryCallback(h.hClient, target, e.Data)
		switch {
		case status == NV_OK:
			return nil
		case status.retryable():
			return status
		}
		return backoff.Permanent(status)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(h.cfg.PollInterval), pctx))
	if err == nil {
		klog.V(DBG_LVL_DETAIL).InfoS("rc-helper recovery callback done", "target", target, "polls", polls)
		return nil
	}
	var status NvStatus
	if errors.As(err, &status) && !status.retryable() {
		klog.V(DBG_LVL_BASIC).InfoS("rc-helper recovery callback failed", "target", target, "status", status.Error())
		return errors.Wrapf(StatusToErrorCode(status), "recovery callback for 0x%X returned %s", uint32(target), status.Error())
	}
	klog.V(DBG_LVL_BASIC).InfoS("rc-helper recovery callback timed out", "target", target, "timeout", timeout, "polls", polls)
	return errors.Wrapf(TIMEOUT_ERROR, "recovery callback for 0x%X still busy after %s", uint32(target), timeout)
}

func (h *RcHelper) record(errType RmErrorType) ErrorCode {
	code := TranslateRmError(errType)
	h.setLastFlushed(code)
	rcErrorsFlushed.WithLabelValues(code.String()).Inc()
	klog.V(DBG_LVL_BASIC).InfoS("rc-helper flushed", "hObject", h.hObject, "type", errType.String(), "code", code.String())
	return code
}

func (h *RcHelper) setLastFlushed(code ErrorCode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastFlushed = code
}

// GetLastFlushedError returns the code of the last error any flush consumed.
func (h *RcHelper) GetLastFlushedError() ErrorCode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFlushed
}

// RecoveryHolder guards one recovery on an RcHelper. Acquisition never blocks and
// fails while any recovery, including the caller's own, is running.
type RecoveryHolder struct {
	h    *RcHelper
	held bool
}

func NewRecoveryHolder(h *RcHelper) *RecoveryHolder {
	return &RecoveryHolder{h: h}
}

func (r *RecoveryHolder) TryAcquire() bool {
	if r.held {
		return false
	}
	r.held = r.h.inRecovery.CompareAndSwap(false, true)
	return r.held
}

// Release is a no-op unless TryAcquire succeeded.
func (r *RecoveryHolder) Release() {
	if !r.held {
		return
	}
	r.held = false
	r.h.inRecovery.Store(false)
}
