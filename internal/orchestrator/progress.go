package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docpipeline/internal/store"
)

// Event is one progress step boundary.
type Event struct {
	Step    string `json:"step"`
	Log     string `json:"log"`
	Percent int    `json:"percent"`
}

// Sink consumes progress events for one document. Implementations may
// be slow or absent; emission never blocks the pipeline.
type Sink func(Event)

// emitTimeout bounds how long the pipeline waits to hand an event to
// the tracker before dropping it.
const emitTimeout = 50 * time.Millisecond

// statusTimeout bounds each status store write from the tracker loop.
const statusTimeout = 2 * time.Second

// tracker serialises progress for one document: events flow through a
// bounded channel to a single goroutine that invokes the sink and
// mirrors the step to the status store. A stalled consumer fills the
// buffer and further events are dropped with a warning, so progress can
// never hold up extraction.
type tracker struct {
	docID  string
	sink   Sink
	status statusStore
	start  time.Time
	last   int

	ch   chan trackedEvent
	done chan struct{}
}

type trackedEvent struct {
	Event
	final bool
}

func newTracker(docID string, sink Sink, status statusStore) *tracker {
	t := &tracker{
		docID:  docID,
		sink:   sink,
		status: status,
		start:  time.Now(),
		ch:     make(chan trackedEvent, 16),
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

// emit queues one step event.
func (t *tracker) emit(step, msg string, percent int) {
	t.last = percent
	t.send(trackedEvent{Event: Event{Step: step, Log: msg, Percent: percent}})
}

// finish queues the terminal event, which also stamps the end time.
func (t *tracker) finish(step, msg string, percent int) {
	t.last = percent
	t.send(trackedEvent{Event: Event{Step: step, Log: msg, Percent: percent}, final: true})
}

// failNow emits the terminal failure event at the last reported
// percent.
func (t *tracker) failNow(msg string) {
	t.send(trackedEvent{Event: Event{Step: "failed", Log: msg, Percent: t.last}, final: true})
}

func (t *tracker) send(ev trackedEvent) {
	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()
	select {
	case t.ch <- ev:
	case <-timer.C:
		log.Warn().Str("document_id", t.docID).Str("step", ev.Step).Msg("progress event dropped")
	}
}

// close stops the tracker after draining queued events.
func (t *tracker) close() {
	close(t.ch)
	<-t.done
}

func (t *tracker) loop() {
	defer close(t.done)
	for ev := range t.ch {
		if t.sink != nil {
			t.sink(ev.Event)
		}
		if t.status == nil {
			continue
		}
		st := store.Status{
			Stage:    ev.Step,
			Progress: ev.Percent,
			Message:  ev.Log,
			Start:    &t.start,
		}
		if ev.final {
			end := time.Now()
			st.End = &end
		}
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		if err := t.status.Set(ctx, t.docID, st); err != nil {
			log.Debug().Err(err).Str("document_id", t.docID).Msg("status write failed")
		}
		cancel()
	}
}
