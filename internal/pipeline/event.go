package pipeline

import (
	"context"

	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/geo"
)

// EventKind discriminates pipeline events.
type EventKind int

const (
	EventProgress EventKind = iota
	EventError
	EventResult
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventResult:
		return "result"
	}
	return "unknown"
}

// Result is the outcome of a successful run.
type Result struct {
	ImageURL string
	Label    string
	District districts.District
	GPS      *geo.GeoPoint
}

// Event is one item on a run's stream.
type Event struct {
	Kind    EventKind
	Percent int
	Message string
	Result  *Result
}

// emitter sends events while keeping progress monotonic.
type emitter struct {
	ctx     context.Context
	out     chan<- Event
	percent int
}

func (e *emitter) send(ev Event) error {
	select {
	case e.out <- ev:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

func (e *emitter) progress(percent int, message string) error {
	if percent < e.percent {
		percent = e.percent
	}
	e.percent = percent
	return e.send(Event{Kind: EventProgress, Percent: percent, Message: message})
}
