package segmenter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock lets tests drive the session clock by hand.
type testClock struct {
	now uint64
}

func (c *testClock) at(ms uint64) { c.now = ms }

func newTestSegmenter(mergeMs uint64, labels map[string]string) (*Segmenter, *testClock) {
	clk := &testClock{}
	return New(mergeMs, labels, func() uint64 { return clk.now }), clk
}

func TestMergeWithinBuffer(t *testing.T) {
	// START(A)@0, STOP(A)@500, START(A)@1200, STOP(A)@2000 with a 1000 ms
	// merge buffer yields a single segment spanning the union.
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(500)
	s.Record(KindStop, "A")
	clk.at(1200)
	s.Record(KindStart, "A")
	clk.at(2000)
	s.Record(KindStop, "A")

	clk.at(2000)
	segs := s.Finish()
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 2000, UserID: "A"}, segs[0])
}

func TestSplitOnLongGap(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(500)
	s.Record(KindStop, "A")
	clk.at(2000)
	s.Record(KindStart, "A")
	clk.at(3000)
	s.Record(KindStop, "A")

	clk.at(3000)
	segs := s.Finish()
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 500, UserID: "A"}, segs[0])
	assert.Equal(t, Segment{StartMs: 2000, EndMs: 3000, UserID: "A"}, segs[1])
}

func TestOverlappingSpeakers(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(200)
	s.Record(KindStart, "B")
	clk.at(800)
	s.Record(KindStop, "A")
	clk.at(1000)
	s.Record(KindStop, "B")

	clk.at(1000)
	segs := s.Finish()
	require.Len(t, segs, 2)
	assert.Contains(t, segs, Segment{StartMs: 0, EndMs: 800, UserID: "A"})
	assert.Contains(t, segs, Segment{StartMs: 200, EndMs: 1000, UserID: "B"})
}

func TestPendingFlushedBySpeakerSwitch(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(100)
	s.Record(KindStop, "A")
	clk.at(300)
	s.Record(KindStart, "B")

	// A's pending is finalized the moment B starts, even though A's
	// cooldown has not elapsed yet.
	segs := s.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 100, UserID: "A"}, segs[0])
}

func TestDuplicateStartIgnored(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(100)
	s.Record(KindStart, "A")
	clk.at(900)
	s.Record(KindStop, "A")

	clk.at(900)
	segs := s.Finish()
	require.Len(t, segs, 1)
	assert.Equal(t, uint64(0), segs[0].StartMs)
	assert.Equal(t, uint64(900), segs[0].EndMs)
}

func TestStopWithoutStartIgnored(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(100)
	s.Record(KindStop, "A")

	clk.at(100)
	assert.Empty(t, s.Finish())
}

func TestStopExtendsPending(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(200)
	s.Record(KindStop, "A")
	clk.at(600)
	s.Record(KindStop, "A")

	clk.at(600)
	segs := s.Finish()
	require.Len(t, segs, 1)
	assert.Equal(t, uint64(600), segs[0].EndMs)
}

func TestFlushElapsed(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(400)
	s.Record(KindStop, "A")

	// Cooldown not yet over: nothing finalized.
	clk.at(900)
	s.FlushElapsed()
	assert.Empty(t, s.Segments())

	clk.at(1400)
	s.FlushElapsed()
	segs := s.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 400, UserID: "A"}, segs[0])
}

func TestFinishClosesOpenSegments(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(0)
	s.Record(KindStart, "A")

	clk.at(2500)
	segs := s.Finish()
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{StartMs: 0, EndMs: 2500, UserID: "A"}, segs[0])

	// Finish leaves the state machine empty.
	assert.Empty(t, s.Segments())
	assert.Empty(t, s.Finish())
}

func TestSpeakerLabelAttached(t *testing.T) {
	s, clk := newTestSegmenter(1000, map[string]string{"A": "Alice"})

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(500)
	s.Record(KindStop, "A")

	clk.at(500)
	segs := s.Finish()
	require.Len(t, segs, 1)
	assert.Equal(t, "Alice", segs[0].SpeakerName)
}

func TestPublishReceivesCopies(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)
	ch := make(chan Segment, 8)
	s.SetPublish(ch)

	clk.at(0)
	s.Record(KindStart, "A")
	clk.at(100)
	s.Record(KindStop, "A")
	clk.at(1500)
	s.FlushElapsed()

	select {
	case got := <-ch:
		assert.Equal(t, Segment{StartMs: 0, EndMs: 100, UserID: "A"}, got)
	default:
		t.Fatal("expected a published segment")
	}
}

func TestPerUserSegmentsDisjointAndOrdered(t *testing.T) {
	s, clk := newTestSegmenter(100, nil)

	times := []struct {
		ms   uint64
		kind EventKind
	}{
		{0, KindStart}, {50, KindStop},
		{400, KindStart}, {500, KindStop},
		{900, KindStart}, {950, KindStop},
	}
	for _, e := range times {
		clk.at(e.ms)
		s.Record(e.kind, "A")
	}

	clk.at(2000)
	segs := s.Finish()
	require.Len(t, segs, 3)
	for i, seg := range segs {
		assert.Less(t, seg.StartMs, seg.EndMs)
		if i > 0 {
			assert.GreaterOrEqual(t, seg.StartMs, segs[i-1].EndMs)
		}
	}
}

func TestZeroLengthUtteranceDropped(t *testing.T) {
	s, clk := newTestSegmenter(1000, nil)

	clk.at(100)
	s.Record(KindStart, "A")
	clk.at(100)
	s.Record(KindStop, "A")

	clk.at(2000)
	assert.Empty(t, s.Finish())
}
