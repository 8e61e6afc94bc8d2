// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package rc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newTestTsg allocates a TSG with n channels, handles hTsg+1..hTsg+n.
func newTestTsg(t *testing.T, hClient, hTsg Handle, n int, dev *fakeDevice, notifier *NvNotification) (*Tsg, []*Channel) {
	t.Helper()
	tsg, err := NewTsg(hClient, hTsg, dev, notifier, testConfig())
	require.NoError(t, err)
	t.Cleanup(tsg.Free)
	var chs []*Channel
	for i := 1; i <= n; i++ {
		ch, err := tsg.AddChannel(hTsg + Handle(i))
		require.NoError(t, err)
		chs = append(chs, ch)
	}
	return tsg, chs
}

func channelErrors(chs []*Channel) []ErrorCode {
	var out []ErrorCode
	for _, ch := range chs {
		out = append(out, ch.GetError())
	}
	return out
}

func TestTsgRegistry(t *testing.T) {
	dev := newFakeDevice(false)
	tsg, err := NewTsg(0x100, 0x1000, dev, nil, testConfig())
	require.NoError(t, err)
	assert.Same(t, tsg, GetTsg(0x100, 0x1000))
	assert.Nil(t, GetTsg(0x101, 0x1000))

	_, err = NewTsg(0x100, 0x1000, dev, nil, testConfig())
	assert.Error(t, err)

	ch, err := tsg.AddChannel(0x1001)
	require.NoError(t, err)
	assert.Same(t, tsg, ch.Tsg())
	assert.Same(t, tsg.GetRcHelper(), ch.GetRcHelper())
	assert.Equal(t, Handle(0x100), ch.Client())
	assert.Same(t, ch, GetChannel(0x100, 0x1001))
	_, err = tsg.AddChannel(0x1001)
	assert.Error(t, err)
	assert.Error(t, ch.Free())

	tsg.Free()
	assert.Nil(t, GetTsg(0x100, 0x1000))
	assert.Nil(t, GetChannel(0x100, 0x1001))
}

func TestTsgCallbackTarget(t *testing.T) {
	dev := newFakeDevice(false)
	empty, _ := newTestTsg(t, 0x110, 0x1100, 0, dev, nil)
	full, _ := newTestTsg(t, 0x110, 0x1200, 2, dev, nil)
	ctx := context.Background()

	log := &recoveryLog{}
	empty.GetRcHelper().RobustChannelCallback(1, ROBUST_CHANNEL_GR_EXCEPTION, nil, log.callback())
	full.GetRcHelper().RobustChannelCallback(1, ROBUST_CHANNEL_GR_EXCEPTION, nil, log.callback())
	require.NoError(t, empty.GetRcHelper().FlushIncomingErrors(ctx, time.Second))
	require.NoError(t, full.GetRcHelper().FlushIncomingErrors(ctx, time.Second))
	assert.Equal(t, []Handle{0x1100, 0x1201}, log.targets)
}

func TestTsgFirstErrorFailsWholeGroup(t *testing.T) {
	dev := newFakeDevice(false)
	tsg, chs := newTestTsg(t, 0x120, 0x1000, 3, dev, nil)
	dev.recoverErr[chs[0].Handle()] = RM_RCH_PBDMA_ERROR
	dev.recoverErr[chs[1].Handle()] = RM_RCH_ECC_DBE
	ctx := context.Background()

	tsg.GetRcHelper().RobustChannelCallback(1, ROBUST_CHANNEL_GR_EXCEPTION, nil, nil)
	tsg.UpdateError(ctx)
	assert.Equal(t, []Handle{0x1001, 0x1002, 0x1003}, dev.recoveredChannels())
	assert.Equal(t, []ErrorCode{RM_RCH_PBDMA_ERROR, RM_RCH_PBDMA_ERROR, RM_RCH_PBDMA_ERROR}, channelErrors(chs))

	// the first recorded error sticks
	dev.recoverErr = map[Handle]error{}
	tsg.GetRcHelper().RobustChannelCallback(1, ROBUST_CHANNEL_CTXSW_TIMEOUT, nil, nil)
	assert.Equal(t, RM_RCH_PBDMA_ERROR, chs[2].CheckError(ctx))
	assert.Len(t, dev.recoveredChannels(), 6)
	assert.Equal(t, []ErrorCode{RM_RCH_PBDMA_ERROR, RM_RCH_PBDMA_ERROR, RM_RCH_PBDMA_ERROR}, channelErrors(chs))
}

func TestTsgHardwareErrorFailsWholeGroup(t *testing.T) {
	n := &NvNotification{}
	dev := newFakeDevice(true)
	_, chs := newTestTsg(t, 0x130, 0x1000, 3, dev, n)
	ctx := context.Background()

	assert.Equal(t, OK, chs[1].CheckError(ctx))
	assert.Empty(t, dev.recoveredChannels())

	n.Raise(ROBUST_CHANNEL_FIFO_ERROR_MMU_ERR_FLT)
	assert.Equal(t, RM_RCH_FIFO_ERROR_MMU_ERR_FLT, chs[1].CheckError(ctx))
	assert.Equal(t, []ErrorCode{RM_RCH_FIFO_ERROR_MMU_ERR_FLT, RM_RCH_FIFO_ERROR_MMU_ERR_FLT, RM_RCH_FIFO_ERROR_MMU_ERR_FLT}, channelErrors(chs))
	assert.Zero(t, n.Status())
}

func TestTsgRecoveryKeepsLastFlushedError(t *testing.T) {
	dev := newFakeDevice(false)
	tsg, chs := newTestTsg(t, 0x135, 0x1000, 3, dev, nil)
	h := tsg.GetRcHelper()

	h.RobustChannelCallback(1, ROBUST_CHANNEL_GR_EXCEPTION, nil, nil)
	tsg.UpdateError(context.Background())
	assert.Equal(t, []ErrorCode{RM_RCH_GR_EXCEPTION, RM_RCH_GR_EXCEPTION, RM_RCH_GR_EXCEPTION}, channelErrors(chs))
	assert.Equal(t, RM_RCH_GR_EXCEPTION, h.GetLastFlushedError())
	assert.False(t, h.DetectNewRobustChannelError())
}

func TestEmptyTsgDrainsQueue(t *testing.T) {
	dev := newFakeDevice(false)
	tsg, _ := newTestTsg(t, 0x136, 0x1000, 0, dev, nil)
	h := tsg.GetRcHelper()

	log := &recoveryLog{}
	h.RobustChannelCallback(1, ROBUST_CHANNEL_FIFO_ERROR_MMU_ERR_FLT, nil, log.callback())
	require.True(t, h.DetectNewRobustChannelError())
	tsg.UpdateError(context.Background())
	assert.False(t, h.DetectNewRobustChannelError())
	assert.Equal(t, RM_RCH_FIFO_ERROR_MMU_ERR_FLT, h.GetLastFlushedError())
	assert.Equal(t, []Handle{0x1000}, log.targets)
	assert.Empty(t, dev.recoveredChannels())
}

func TestTsgResetInProgressOverrides(t *testing.T) {
	dev := newFakeDevice(false)
	tsg, chs := newTestTsg(t, 0x140, 0x1000, 3, dev, nil)
	dev.resetting.Store(true)

	tsg.UpdateError(context.Background())
	assert.Len(t, dev.recoveredChannels(), 3)
	assert.Equal(t, []ErrorCode{RESET_IN_PROGRESS, RESET_IN_PROGRESS, RESET_IN_PROGRESS}, channelErrors(chs))
}

func TestTsgFlushTimeoutFailsGroup(t *testing.T) {
	dev := newFakeDevice(false)
	tsg, chs := newTestTsg(t, 0x150, 0x1000, 2, dev, nil)
	tsg.GetRcHelper().cfg.FlushTimeout = 20 * time.Millisecond
	log := &recoveryLog{}

	tsg.GetRcHelper().RobustChannelCallback(1, ROBUST_CHANNEL_GR_EXCEPTION, nil, log.callback(NV_ERR_BUSY_RETRY))
	tsg.UpdateError(context.Background())
	assert.Equal(t, []ErrorCode{TIMEOUT_ERROR, TIMEOUT_ERROR}, channelErrors(chs))
	// the timed out channel skips its device recovery, the next one finds nothing to flush
	assert.Equal(t, []Handle{0x1002}, dev.recoveredChannels())
}

func TestTsgConcurrentUpdateErrorRecoversOnce(t *testing.T) {
	dev := newFakeDevice(false)
	dev.entered = make(chan struct{}, 1)
	dev.release = make(chan struct{})
	tsg, chs := newTestTsg(t, 0x160, 0x1000, 1, dev, nil)
	ctx := context.Background()

	tsg.GetRcHelper().RobustChannelCallback(1, ROBUST_CHANNEL_GR_EXCEPTION, nil, nil)
	var g errgroup.Group
	g.Go(func() error {
		tsg.UpdateError(ctx)
		return nil
	})
	<-dev.entered

	// the guard is held, a second caller returns without recovering
	tsg.GetRcHelper().RobustChannelCallback(1, ROBUST_CHANNEL_ECC_DBE, nil, nil)
	tsg.UpdateError(ctx)
	assert.Len(t, dev.recoveredChannels(), 1)
	assert.Equal(t, OK, chs[0].GetError())

	close(dev.release)
	require.NoError(t, g.Wait())
	assert.Len(t, dev.recoveredChannels(), 1)
	assert.Equal(t, RM_RCH_GR_EXCEPTION, chs[0].GetError())
	// queued after the winner flushed, left for the next check
	assert.True(t, tsg.GetRcHelper().DetectNewRobustChannelError())
}

func TestStandaloneChannel(t *testing.T) {
	dev := newFakeDevice(false)
	ch, err := NewChannel(0x170, 0x1700, dev, nil, testConfig())
	require.NoError(t, err)
	assert.Nil(t, ch.Tsg())
	ctx := context.Background()

	_, err = NewChannel(0x170, 0x1700, dev, nil, testConfig())
	assert.Error(t, err)

	log := &recoveryLog{}
	require.NoError(t, DispatchRobustChannelCallback(0x170, 0x1700, 1, ROBUST_CHANNEL_PBDMA_ERROR, "ctx", log.callback()))
	assert.True(t, ch.GetRcHelper().DetectNewRobustChannelError())
	assert.Equal(t, RM_RCH_PBDMA_ERROR, ch.CheckError(ctx))
	assert.Equal(t, []Handle{0x1700}, log.targets)
	assert.Equal(t, []any{"ctx"}, log.data)

	ch.SetError(RM_RCH_ECC_DBE)
	assert.Equal(t, RM_RCH_PBDMA_ERROR, ch.GetError())

	require.NoError(t, ch.Free())
	assert.Nil(t, GetChannel(0x170, 0x1700))
	assert.Error(t, DispatchRobustChannelCallback(0x170, 0x1700, 1, ROBUST_CHANNEL_PBDMA_ERROR, nil, nil))
}

func TestDispatchToTsgMembers(t *testing.T) {
	dev := newFakeDevice(false)
	tsg, chs := newTestTsg(t, 0x180, 0x1000, 2, dev, nil)
	h := tsg.GetRcHelper()

	require.NoError(t, DispatchRobustChannelCallback(0x180, 0x1000, 1, ROBUST_CHANNEL_GR_EXCEPTION, nil, nil))
	require.NoError(t, DispatchRobustChannelCallback(0x180, chs[1].Handle(), 1, ROBUST_CHANNEL_ECC_DBE, nil, nil))
	src := h.source.(*callbackSource)
	assert.Equal(t, 2, src.pending())

	assert.Equal(t, RM_RCH_ECC_DBE, chs[0].CheckError(context.Background()))
	assert.Equal(t, RM_RCH_ECC_DBE, chs[1].GetError())
}
