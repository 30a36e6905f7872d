package ioq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostAndStartProcessing(t *testing.T) {
	q := New()
	require.NoError(t, q.Post("op1"))
	assert.Equal(t, 1, q.PendingLen())

	op, hint, status, err := q.StartProcessing(context.Background(), func(op any, _ []byte) error { return nil }, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "op1", op)
	assert.NotZero(t, hint)
	assert.Equal(t, 0, q.PendingLen())
	assert.Equal(t, 1, q.InProcessLen())
}

func TestStartProcessingTimeout(t *testing.T) {
	q := New()
	_, _, status, err := q.StartProcessing(context.Background(), func(any, []byte) error { return nil }, nil, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, status)
}

func TestEndProcessingCompletesAndRemoves(t *testing.T) {
	q := New()
	q.Post("op1")
	_, hint, _, _ := q.StartProcessing(context.Background(), func(any, []byte) error { return nil }, nil, time.Second)

	called := false
	err := q.EndProcessing(hint, func(op any, _ []byte) (bool, error) {
		called = true
		assert.Equal(t, "op1", op)
		return false, nil
	}, nil)
	require.NoError(t, err)
	assert.True(t, called, "complete callback was not invoked")
	assert.Equal(t, 0, q.InProcessLen())
}

func TestEndProcessingUnknownHintIsNoop(t *testing.T) {
	q := New()
	err := q.EndProcessing(0xdead, func(any, []byte) (bool, error) { return false, nil }, nil)
	assert.NoError(t, err)
}

func TestEndProcessingPendingReinsertsAtHead(t *testing.T) {
	q := New()
	q.Post("chunked")
	_, hint, _, _ := q.StartProcessing(context.Background(), func(any, []byte) error { return nil }, nil, time.Second)

	err := q.EndProcessing(hint, func(any, []byte) (bool, error) { return true, nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, q.PendingLen(), "pending chunk reinsertion")

	op, _, status, _ := q.StartProcessing(context.Background(), func(any, []byte) error { return nil }, nil, time.Second)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "chunked", op)
}

func TestCancelOpPending(t *testing.T) {
	q := New()
	q.Post("target")
	q.Post("other")

	ok := q.CancelOp(func(op any) bool { return op == "target" })
	assert.True(t, ok, "CancelOp did not find pending target")
	assert.Equal(t, 1, q.PendingLen())
}

func TestCancelOpInProcess(t *testing.T) {
	q := New()
	q.Post("target")
	q.StartProcessing(context.Background(), func(any, []byte) error { return nil }, nil, time.Second)

	ok := q.CancelOp(func(op any) bool { return op == "target" })
	assert.True(t, ok, "CancelOp did not find in-process target")
	assert.Equal(t, 0, q.InProcessLen())
}

func TestResetFailsAllAndStops(t *testing.T) {
	q := New()
	q.Post("pending1")
	q.Post("pending2")
	q.StartProcessing(context.Background(), func(any, []byte) error { return nil }, nil, time.Second)

	var failed []any
	q.Reset(true, func(op any) { failed = append(failed, op) })

	assert.Len(t, failed, 2)
	assert.True(t, q.Stopped())
	assert.Error(t, q.Post("post-stop"))

	_, _, status, _ := q.StartProcessing(context.Background(), func(any, []byte) error { return nil }, nil, time.Second)
	assert.Equal(t, StatusCancelled, status)
}

func TestResetWithoutStopKeepsQueueRunning(t *testing.T) {
	q := New()
	q.Post("drained")
	q.Reset(false, func(any) {})

	assert.False(t, q.Stopped())
	assert.NoError(t, q.Post("still-running"))
}

func TestPrepareErrorStillMovesRequestInProcess(t *testing.T) {
	q := New()
	q.Post("op1")

	wantErr := context.DeadlineExceeded
	_, hint, status, err := q.StartProcessing(context.Background(), func(any, []byte) error { return wantErr }, nil, time.Second)
	assert.Equal(t, StatusSuccess, status, "prepare errors should not change hand-off status")
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 1, q.InProcessLen())
	assert.NotZero(t, hint)
}
