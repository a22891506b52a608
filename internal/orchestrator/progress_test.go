package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerDeliversInOrder(t *testing.T) {
	status := newMemStatus()
	rec := &sinkRecorder{}

	tr := newTracker("doc-1", rec.sink, status)
	tr.emit("created", "received", 5)
	tr.emit("layout_done", "2 pages", 45)
	tr.finish("ready", "done", 100)
	tr.close()

	assert.Equal(t, []string{"created", "layout_done", "ready"}, rec.steps())

	trail := status.all("doc-1")
	require.Len(t, trail, 3)
	for _, st := range trail {
		require.NotNil(t, st.Start)
	}
	assert.Nil(t, trail[0].End)
	assert.Nil(t, trail[1].End)
	require.NotNil(t, trail[2].End, "the terminal event stamps the end time")
	assert.Equal(t, 100, trail[2].Progress)
}

func TestTrackerNilSinkAndStatus(t *testing.T) {
	tr := newTracker("doc-2", nil, nil)
	tr.emit("created", "received", 5)
	tr.finish("ready", "done", 100)
	tr.close()
}

func TestTrackerDropsWhenConsumerStalls(t *testing.T) {
	release := make(chan struct{})
	var delivered int
	blockingSink := func(Event) {
		<-release
		delivered++
	}

	tr := newTracker("doc-3", blockingSink, nil)
	// One event goes to the stalled sink, sixteen fill the buffer; the
	// rest must come back within the hand-off timeout instead of
	// stalling the pipeline.
	start := time.Now()
	for i := 0; i < 20; i++ {
		tr.emit("step", "msg", i)
	}
	assert.Less(t, time.Since(start), 10*emitTimeout)

	close(release)
	tr.close()
	assert.Less(t, delivered, 20, "overflow events are dropped")
	assert.GreaterOrEqual(t, delivered, 16, "buffered events still arrive")
}

func TestTrackerFailureReportsLastPercent(t *testing.T) {
	status := newMemStatus()
	rec := &sinkRecorder{}

	tr := newTracker("doc-4", rec.sink, status)
	tr.emit("decoded", "classified", 20)
	tr.failNow("engine exploded")
	tr.close()

	st, ok, err := status.Get(context.Background(), "doc-4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", st.Stage)
	assert.Equal(t, 20, st.Progress, "failure keeps the last reported percent")
	assert.Equal(t, "engine exploded", st.Message)
	assert.NotNil(t, st.End)
}
