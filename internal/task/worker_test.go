package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorker(t *testing.T) *Worker {
	t.Helper()
	w := NewWorker(context.Background())
	t.Cleanup(w.Close)
	return w
}

func TestWorker_ProgressAndResult(t *testing.T) {
	w := newWorker(t)

	h, err := w.Submit("count", func(ctx context.Context, progress chan<- Progress) (any, error) {
		for i := 1; i <= 3; i++ {
			Send(progress, float64(i)/3, "step")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)
	assert.Equal(t, "count", h.Name)

	var fractions []float64
	for p := range h.Progress() {
		fractions = append(fractions, p.Fraction)
	}
	assert.Equal(t, []float64{1.0 / 3, 2.0 / 3, 1}, fractions)

	res := h.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)
	assert.False(t, w.Busy())
}

func TestWorker_RejectsReentrantSubmit(t *testing.T) {
	w := newWorker(t)
	release := make(chan struct{})
	started := make(chan struct{})

	h, err := w.Submit("slow", func(ctx context.Context, progress chan<- Progress) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	assert.True(t, w.Busy())
	_, err = w.Submit("second", func(context.Context, chan<- Progress) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, h.Wait().Err)

	h2, err := w.Submit("third", func(context.Context, chan<- Progress) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", h2.Wait().Value)
}

func TestWorker_Failure(t *testing.T) {
	w := newWorker(t)
	boom := errors.New("boom")

	h, err := w.Submit("fail", func(context.Context, chan<- Progress) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	res := h.Wait()
	assert.ErrorIs(t, res.Err, boom)
	<-h.Done()
}

func TestWorker_PanicBecomesFailure(t *testing.T) {
	w := newWorker(t)

	h, err := w.Submit("panic", func(context.Context, chan<- Progress) (any, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	res := h.Wait()
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "kaboom")

	// The worker survives.
	h, err = w.Submit("after", func(context.Context, chan<- Progress) (any, error) { return 1, nil })
	require.NoError(t, err)
	assert.NoError(t, h.Wait().Err)
}

func TestWorker_Close(t *testing.T) {
	w := NewWorker(context.Background())
	w.Close()
	w.Close()

	_, err := w.Submit("late", func(context.Context, chan<- Progress) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSend_DoesNotBlock(t *testing.T) {
	ch := make(chan Progress, 1)
	Send(ch, 0.5, "first")
	Send(ch, 1, "dropped")
	Send(nil, 1, "ignored")

	p := <-ch
	assert.Equal(t, "first", p.Message)
	assert.Empty(t, ch)
}
