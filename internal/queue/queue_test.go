package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duplex/internal/ir"
)

var testTime = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func change(path string, p Priority, content string) Change {
	return Change{
		Path:       path,
		Side:       ir.SideA,
		Priority:   p,
		DetectedAt: testTime,
		Content:    []byte(content),
	}
}

func TestFIFOWithinTier(t *testing.T) {
	q := New()
	require.True(t, q.Enqueue(change("a.jsx", PriorityNormal, "1")))
	require.True(t, q.Enqueue(change("b.jsx", PriorityNormal, "2")))
	require.True(t, q.Enqueue(change("c.jsx", PriorityNormal, "3")))

	var got []string
	for {
		ch, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, ch.Path)
	}
	assert.Equal(t, []string{"a.jsx", "b.jsx", "c.jsx"}, got)
}

func TestPriorityTiersDrainHighFirst(t *testing.T) {
	q := New()
	q.Enqueue(change("low.jsx", PriorityLow, "l"))
	q.Enqueue(change("normal.jsx", PriorityNormal, "n"))
	q.Enqueue(change("high.jsx", PriorityHigh, "h"))
	q.Enqueue(change("high2.jsx", PriorityHigh, "h2"))

	var got []string
	for {
		ch, ok := q.TryDequeue()
		if !ok {
			break
		}
		got = append(got, ch.Path)
	}
	assert.Equal(t, []string{"high.jsx", "high2.jsx", "normal.jsx", "low.jsx"}, got)
}

func TestCoalesceKeepsPosition(t *testing.T) {
	q := New()
	q.Enqueue(change("a.jsx", PriorityNormal, "first"))
	q.Enqueue(change("b.jsx", PriorityNormal, "other"))

	// a.jsx edited again while queued
	later := change("a.jsx", PriorityNormal, "second")
	later.DetectedAt = testTime.Add(time.Second)
	require.True(t, q.Enqueue(later))

	assert.Equal(t, 2, q.Len(), "coalescing does not grow the queue")

	ch, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a.jsx", ch.Path, "coalesced entry keeps its place at the front")
	assert.Equal(t, "second", string(ch.Content), "latest content wins")
	assert.Equal(t, testTime.Add(time.Second), ch.DetectedAt)
}

func TestCoalesceKeepsTier(t *testing.T) {
	q := New()
	q.Enqueue(change("scan.jsx", PriorityLow, "cold"))
	// A real edit to the same path arrives at normal priority
	q.Enqueue(change("other.jsx", PriorityNormal, "n"))
	q.Enqueue(change("scan.jsx", PriorityNormal, "fresh"))

	first, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "other.jsx", first.Path, "coalescing never re-prioritizes")

	second, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "scan.jsx", second.Path)
	assert.Equal(t, "fresh", string(second.Content))
	assert.Equal(t, PriorityLow, second.Priority)
}

func TestTryDequeueEmpty(t *testing.T) {
	q := New()
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEnqueueAfterClose(t *testing.T) {
	q := New()
	q.Enqueue(change("a.jsx", PriorityNormal, "1"))
	q.Close()

	assert.False(t, q.Enqueue(change("b.jsx", PriorityNormal, "2")))
	assert.True(t, q.Closed())

	// Drain still works after close
	ch, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a.jsx", ch.Path)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New()
	q.Close()
	q.Close() // must not panic on double close
	assert.True(t, q.Closed())
}

func TestWaitSignals(t *testing.T) {
	q := New()

	select {
	case <-q.Wait():
		t.Fatal("no signal expected on an empty queue")
	case <-time.After(10 * time.Millisecond):
	}

	q.Enqueue(change("a.jsx", PriorityNormal, "1"))

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("enqueue must signal waiters")
	}
}

func TestWaitWakesOnClose(t *testing.T) {
	q := New()
	done := make(chan struct{})

	go func() {
		<-q.Wait()
		close(done)
	}()

	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close must wake waiters")
	}
}

func TestSnapshotOrder(t *testing.T) {
	q := New()
	q.Enqueue(change("low.jsx", PriorityLow, "l"))
	q.Enqueue(change("high.jsx", PriorityHigh, "h"))
	q.Enqueue(change("normal.jsx", PriorityNormal, "n"))

	snap := q.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "high.jsx", snap[0].Path)
	assert.Equal(t, "normal.jsx", snap[1].Path)
	assert.Equal(t, "low.jsx", snap[2].Path)

	assert.Equal(t, 3, q.Len(), "snapshot does not consume")
}

func TestPriorityStrings(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "normal", PriorityNormal.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "unknown", Priority(9).String())

	assert.True(t, PriorityNormal.Valid())
	assert.False(t, Priority(9).Valid())
	assert.False(t, Priority(-1).Valid())
}

func TestInvalidPriorityDefaultsToNormal(t *testing.T) {
	q := New()
	q.Enqueue(Change{Path: "x.jsx", Side: ir.SideA, Priority: Priority(42), DetectedAt: testTime})

	ch, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, PriorityNormal, ch.Priority)
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	q := New()
	const producers = 4
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(change(fmt.Sprintf("p%d-f%d.jsx", p, i), PriorityNormal, "x"))
			}
		}(p)
	}

	seen := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.After(5 * time.Second)
		for seen < producers*perProducer {
			if _, ok := q.TryDequeue(); ok {
				seen++
				continue
			}
			select {
			case <-q.Wait():
			case <-deadline:
				return
			}
		}
	}()

	wg.Wait()
	<-done
	assert.Equal(t, producers*perProducer, seen)
}
