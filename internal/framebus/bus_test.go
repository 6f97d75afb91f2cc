package framebus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T) *core.RawFrame {
	t.Helper()
	f, err := core.NewRawFrame(1, 1, []byte{1, 2, 3})
	require.NoError(t, err)
	return f
}

func TestPublishNThenReadYieldsN(t *testing.T) {
	b := New()
	var last *core.RawFrame
	for i := 0; i < 5; i++ {
		last = frame(t)
		b.Publish(last)
	}
	got, ok := b.ConsumeLatest()
	require.True(t, ok)
	assert.Same(t, last, got)
	assert.Equal(t, uint64(5), got.Seq)
}

func TestConsumeLatestOverwrites(t *testing.T) {
	b := New()
	_, ok := b.ConsumeLatest()
	assert.False(t, ok)

	first, second := frame(t), frame(t)
	b.Publish(first)
	b.Publish(second)

	got, ok := b.ConsumeLatest()
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, uint64(2), got.Seq)

	again, ok := b.ConsumeLatest()
	require.True(t, ok, "the frame stays in the slot")
	assert.Same(t, second, again)
	assert.Same(t, second, b.Latest())

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(2), st.LastSeq)
}

func TestSubscriptionReceivesLatest(t *testing.T) {
	b := New()
	b.Publish(frame(t))

	sub := b.Subscribe()
	defer sub.Close()
	assert.Equal(t, 1, b.Stats().Subscribers)

	// primed with the last frame
	got, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Seq)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Publish(frame(t))
	}()
	got, err = sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)
}

func TestSubscriptionIndependentOfMain(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(frame(t))
	_, ok := b.ConsumeLatest()
	require.True(t, ok)

	got, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Seq)
}

func TestSubscriptionCloseAndContext(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sub.Close()
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, b.Stats().Subscribers)
}

func TestBusCloseWakesSubscribers(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	errc := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("subscriber not woken")
	}

	late := b.Subscribe()
	_, err := late.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentPublishConsume(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Publish(frame(t))
		}
	}()
	var lastSeq uint64
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if f, ok := b.ConsumeLatest(); ok {
				assert.GreaterOrEqual(t, f.Seq, lastSeq)
				lastSeq = f.Seq
			}
		}
	}()
	wg.Wait()

	st := b.Stats()
	assert.Equal(t, uint64(1000), st.Published)
	assert.LessOrEqual(t, st.Dropped, uint64(999))
}
