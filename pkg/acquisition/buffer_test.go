package acquisition

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/pkg/model"
)

func pushSeq(b *Buffer, from, to uint64) {
	for seq := from; seq <= to; seq++ {
		b.Push(Frame{Seq: seq, Cycle: 1, Valid: true, Timestamp: time.Now()})
	}
}

func popAll(b *Buffer) []uint64 {
	var seqs []uint64
	for {
		f, ok := b.Pop()
		if !ok {
			return seqs
		}
		seqs = append(seqs, f.Seq)
	}
}

func TestBufferOverflowKeepsNewest(t *testing.T) {
	for _, tc := range []struct{ capacity, k int }{{1, 1}, {3, 2}, {8, 1}, {8, 20}} {
		t.Run(fmt.Sprintf("C=%d/k=%d", tc.capacity, tc.k), func(t *testing.T) {
			b := NewBuffer(tc.capacity)
			total := uint64(tc.capacity + tc.k)
			pushSeq(b, 1, total)

			stats := b.Stats()
			assert.Equal(t, tc.capacity, stats.Len)
			assert.Equal(t, uint64(tc.k), stats.Overflow)
			assert.Equal(t, total, stats.Pushed)

			seqs := popAll(b)
			require.Len(t, seqs, tc.capacity)
			for i := 1; i < len(seqs); i++ {
				assert.Greater(t, seqs[i], seqs[i-1])
			}
			assert.Equal(t, uint64(tc.k+1), seqs[0], "gap after eviction")
			assert.Equal(t, total, seqs[len(seqs)-1])
		})
	}
}

func TestBufferFiveIntoThree(t *testing.T) {
	b := NewBuffer(3)
	pushSeq(b, 1, 5)

	assert.Equal(t, []uint64{3, 4, 5}, popAll(b))
	assert.Equal(t, uint64(2), b.Stats().Overflow)
}

func TestBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBuffer(0).Capacity())
}

func TestBufferDrain(t *testing.T) {
	b := NewBuffer(2)
	pushSeq(b, 1, 4)
	b.RecordLoss(3)

	assert.Equal(t, 2, b.Drain())

	stats := b.Stats()
	assert.Equal(t, 0, stats.Len)
	assert.Zero(t, stats.Overflow)
	assert.Zero(t, stats.Lost)
	assert.Equal(t, uint64(4), stats.Pushed)

	_, ok := b.Pop()
	assert.False(t, ok)
}

func TestBufferPopWait(t *testing.T) {
	t.Run("Timeout", func(t *testing.T) {
		b := NewBuffer(2)
		start := time.Now()
		_, err := b.PopWait(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, model.ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("WakesOnPush", func(t *testing.T) {
		b := NewBuffer(2)
		go func() {
			time.Sleep(10 * time.Millisecond)
			pushSeq(b, 1, 1)
		}()
		f, err := b.PopWait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), f.Seq)
	})

	t.Run("ContextCancel", func(t *testing.T) {
		b := NewBuffer(2)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := b.PopWait(ctx, 0)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("ConcurrentConsumersEachGetOne", func(t *testing.T) {
		b := NewBuffer(4)
		results := make(chan uint64, 2)
		for range 2 {
			go func() {
				f, err := b.PopWait(context.Background(), time.Second)
				if err == nil {
					results <- f.Seq
				}
			}()
		}
		time.Sleep(10 * time.Millisecond)
		pushSeq(b, 1, 2)

		got := []uint64{<-results, <-results}
		assert.ElementsMatch(t, []uint64{1, 2}, got)
	})
}
