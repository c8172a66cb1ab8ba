package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/markduk/portalmover/internal/importer"
)

func TestEventRecorder_KeepsOrder(t *testing.T) {
	r := NewEventRecorder()
	var handler importer.EventHandler = r.Record

	handler(importer.Event{Seq: 1, Kind: importer.EventSweep})
	handler(importer.Event{Seq: 2, Kind: importer.EventCreate, Entity: "account"})

	events := r.Events()
	assert.Len(t, events, 2)
	assert.Equal(t, int64(2), events[1].Seq)
	assert.Equal(t, []importer.EventKind{importer.EventSweep, importer.EventCreate}, r.Kinds())
}

func TestEventRecorder_EventsIsACopy(t *testing.T) {
	r := NewEventRecorder()
	r.Record(importer.Event{Seq: 1, Kind: importer.EventSweep})

	events := r.Events()
	events[0].Kind = importer.EventFail

	assert.Equal(t, importer.EventSweep, r.Events()[0].Kind)
}

func TestEventRecorder_Reset(t *testing.T) {
	r := NewEventRecorder()
	r.Record(importer.Event{Seq: 1})
	r.Reset()

	assert.Empty(t, r.Events())
	assert.Empty(t, r.Kinds())
}

func TestEventRecorder_ConcurrentRecord(t *testing.T) {
	r := NewEventRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			r.Record(importer.Event{Seq: seq})
		}(int64(i))
	}
	wg.Wait()

	assert.Len(t, r.Events(), 20)
}
