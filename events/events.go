// Package events provides the engine's in-memory event log exposed as a
// reflex stream, so observers consume order lifecycle and trade events the
// same way they would a persisted event table.
package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/reflex"
)

//go:generate stringer -type=Type -trimprefix=Type

type Type int

func (t Type) ReflexType() int {
	return int(t)
}

const (
	TypeUnknown        Type = 0
	TypeOrderPlaced    Type = 1
	TypeTradeExecuted  Type = 2
	TypePartialFill    Type = 3
	TypeOrderFilled    Type = 4
	TypeOrderCancelled Type = 5
)

// Log is an append-only in-memory event log. Append assigns sequential ids
// starting at 1; Stream implements reflex.StreamFunc over the log.
type Log struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []*reflex.Event
}

func NewLog() *Log {
	l := new(Log)
	l.cond = sync.NewCond(&l.mu)

	return l
}

// Append adds an event for the given order id with an optional JSON
// metadata payload and wakes any blocked streams.
func (l *Log) Append(typ Type, orderID int64, meta []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, &reflex.Event{
		ID:        strconv.Itoa(len(l.events) + 1),
		Type:      typ,
		ForeignID: strconv.FormatInt(orderID, 10),
		Timestamp: time.Now(),
		MetaData:  meta,
	})
	l.cond.Broadcast()
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.events)
}

// Stream returns a client of all events after the given cursor. It blocks
// on Recv until new events are appended or the context is cancelled.
func (l *Log) Stream(ctx context.Context, after string,
	opts ...reflex.StreamOption) (reflex.StreamClient, error) {

	var next int
	if after != "" {
		i, err := strconv.Atoi(after)
		if err != nil {
			return nil, errors.Wrap(err, "invalid cursor")
		}
		next = i
	}

	return &streamclient{ctx: ctx, log: l, next: next}, nil
}

type streamclient struct {
	ctx  context.Context
	log  *Log
	next int // Index of the next event to return.
}

func (s *streamclient) Recv() (*reflex.Event, error) {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()

	for s.next >= len(s.log.events) {
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		s.wait()
	}

	e := s.log.events[s.next]
	s.next++

	return e, nil
}

// wait blocks until the log grows or the context is done. It is called
// with the log mutex held. The watcher goroutine exits as soon as wait
// returns, so idle streams hold no goroutines.
func (s *streamclient) wait() {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-s.ctx.Done():
			// Take the mutex so the broadcast cannot fire before the
			// caller is waiting on the cond.
			s.log.mu.Lock()
			defer s.log.mu.Unlock()
			s.log.cond.Broadcast()
		case <-done:
		}
	}()

	s.log.cond.Wait()
}
