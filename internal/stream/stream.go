package stream

import (
	"encoding/json"
	"errors"
	"io"
)

// EventType tags a progress event in the per-query stream.
type EventType string

const (
	EventQuota    EventType = "quota"
	EventCategory EventType = "category"
	EventAgents   EventType = "agents"
	EventFinal    EventType = "final"
	EventError    EventType = "error"
)

// Event is one line of the progress stream, in the exact wire shape
// {"type": ..., "data": ...}.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// QuotaData is the payload of the quota event.
type QuotaData struct {
	Remaining int64 `json:"remaining"`
	Max       int64 `json:"max"`
}

// Sink consumes emitted events, typically writing them to the caller's
// connection.
type Sink func(Event) error

var (
	// ErrOutOfOrder reports an attempted emission that violates the
	// quota -> category -> agents -> final order.
	ErrOutOfOrder = errors.New("progress event out of order")
	// ErrTerminated reports an emission after the stream already ended.
	ErrTerminated = errors.New("progress stream already terminated")
)

type state int

const (
	stateStart state = iota
	stateQuota
	stateCategory
	stateAgents
	stateFinal
	stateErrored
)

// Emitter serializes one query's pipeline progress into the ordered event
// stream. Each transition happens at most once; error is terminal from any
// state. An Emitter belongs to a single query and is not shared across
// goroutines.
type Emitter struct {
	sink  Sink
	state state
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

func (e *Emitter) emit(next state, ev Event) error {
	if e.state == stateFinal || e.state == stateErrored {
		return ErrTerminated
	}
	if next != e.state+1 {
		return ErrOutOfOrder
	}
	if err := e.sink(ev); err != nil {
		// The consumer is gone; stop the stream.
		e.state = stateErrored
		return err
	}
	e.state = next
	return nil
}

// Quota reports the caller's allowance immediately after the ledger check
// passes.
func (e *Emitter) Quota(data QuotaData) error {
	return e.emit(stateQuota, Event{Type: EventQuota, Data: data})
}

// Category reports the classifier's label.
func (e *Emitter) Category(label string) error {
	return e.emit(stateCategory, Event{Type: EventCategory, Data: label})
}

// Agents reports all dispatch results together, sorted by agent id.
func (e *Emitter) Agents(results interface{}) error {
	return e.emit(stateAgents, Event{Type: EventAgents, Data: results})
}

// Final reports the synthesized answer and completes the stream.
func (e *Emitter) Final(answer string) error {
	return e.emit(stateFinal, Event{Type: EventFinal, Data: answer})
}

// Error terminates the stream from any state. No events may follow.
func (e *Emitter) Error(reason string) error {
	if e.state == stateFinal || e.state == stateErrored {
		return ErrTerminated
	}
	err := e.sink(Event{Type: EventError, Data: reason})
	e.state = stateErrored
	return err
}

// Done reports whether the stream reached a terminal state.
func (e *Emitter) Done() bool {
	return e.state == stateFinal || e.state == stateErrored
}

// NDJSON returns a sink writing one JSON line per event. flush may be nil;
// when set it is called after every line so consumers see events as they
// happen.
func NDJSON(w io.Writer, flush func()) Sink {
	enc := json.NewEncoder(w)
	return func(ev Event) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}
}
