package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

// fakeRecorder blocks each write until release is closed.
type fakeRecorder struct {
	mu       sync.Mutex
	recorded []model.EventInput
	ctxs     []context.Context
	release  chan struct{}
	err      error
}

func newFake() *fakeRecorder { return &fakeRecorder{release: make(chan struct{})} }

func (f *fakeRecorder) Record(ctx context.Context, in model.EventInput, receivedAt time.Time) (model.Event, error) {
	<-f.release
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxs = append(f.ctxs, ctx)
	if f.err != nil {
		return model.Event{}, f.err
	}
	f.recorded = append(f.recorded, in)
	return model.NewEvent(in, receivedAt), nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

func input(kind string) model.EventInput {
	return model.EventInput{Event: kind, Timestamp: time.Now()}
}

func TestSubmit_RejectsBeyondCapacity(t *testing.T) {
	rec := newFake()
	p := New(rec, nil, 2, time.Second)

	require.NoError(t, p.Submit(input("a"), time.Now()))
	require.NoError(t, p.Submit(input("b"), time.Now()))
	assert.ErrorIs(t, p.Submit(input("c"), time.Now()), ErrSaturated)
	assert.Equal(t, int64(2), p.InFlight())
	assert.Equal(t, int64(2), p.Capacity())

	close(rec.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))
	assert.Equal(t, 2, rec.count())
	assert.Zero(t, p.InFlight())
}

func TestSubmit_SlotFreedAfterWrite(t *testing.T) {
	rec := newFake()
	close(rec.release)
	p := New(rec, nil, 1, time.Second)

	require.NoError(t, p.Submit(input("a"), time.Now()))
	assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(input("b"), time.Now()))
	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
}

func TestWrite_UsesDetachedContextWithDeadline(t *testing.T) {
	rec := newFake()
	close(rec.release)
	p := New(rec, nil, 4, 3*time.Second)

	require.NoError(t, p.Submit(input("a"), time.Now()))
	require.NoError(t, p.Drain(context.Background()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.ctxs, 1)
	deadline, ok := rec.ctxs[0].Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(3*time.Second), deadline, 3*time.Second)
}

func TestWrite_FailureIsCountedNotSurfaced(t *testing.T) {
	rec := newFake()
	rec.err = errors.New("disk full")
	close(rec.release)
	p := New(rec, nil, 4, time.Second)

	require.NoError(t, p.Submit(input("a"), time.Now()))
	require.NoError(t, p.Drain(context.Background()))
	assert.Equal(t, int64(1), p.Failed())
}

func TestDrain_RejectsNewSubmissions(t *testing.T) {
	rec := newFake()
	close(rec.release)
	p := New(rec, nil, 4, time.Second)

	require.NoError(t, p.Drain(context.Background()))
	assert.ErrorIs(t, p.Submit(input("a"), time.Now()), ErrClosed)
}

func TestDrain_HonorsDeadline(t *testing.T) {
	rec := newFake()
	p := New(rec, nil, 1, 5*time.Second)
	require.NoError(t, p.Submit(input("a"), time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(rec.release)
	assert.Eventually(t, func() bool { return p.InFlight() == 0 }, time.Second, time.Millisecond)
}
