package core

import (
	"context"
	stderrors "errors"
	"sync"
)

// EmitFunc hands one message to the consumer. It blocks until the consumer
// takes the message and returns the context error once the stream is closed.
type EmitFunc func(Message) error

// ProduceFunc generates the messages of a stream. Returning ends the stream;
// a non-nil error is reported to the consumer through Err.
type ProduceFunc func(ctx context.Context, emit EmitFunc) error

// MessageStream is the lazy, finite, single-consumer sequence returned by
// SourceConnector.Read. The producer runs in its own goroutine and only advances
// when the consumer asks for the next message, so nothing is buffered beyond
// one in-flight message. A stream cannot be restarted.
type MessageStream struct {
	messages  chan Message
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    bool
	err       error
}

// NewMessageStream starts produce and returns the consuming side.
func NewMessageStream(parent context.Context, produce ProduceFunc) *MessageStream {
	ctx, cancel := context.WithCancel(parent)
	s := &MessageStream{
		messages: make(chan Message),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go func() {
		defer close(s.done)
		defer cancel()
		defer close(s.messages)
		emit := func(m Message) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case s.messages <- m:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.err = produce(ctx, emit)
	}()

	return s
}

// Next returns the next message. ok is false once the stream is exhausted or closed.
func (s *MessageStream) Next() (msg Message, ok bool) {
	msg, ok = <-s.messages
	return msg, ok
}

// Err returns the producer error. It is only meaningful after Next returned false.
func (s *MessageStream) Err() error {
	<-s.done
	if s.closed && stderrors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

// Close stops the producer and waits for it to return. Messages not yet
// consumed are discarded. Close is safe to call more than once.
func (s *MessageStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.cancel()
		for range s.messages {
		}
	})
	return s.Err()
}

// Collect drains the stream into a slice. Intended for tests and small catalogs.
func (s *MessageStream) Collect() ([]Message, error) {
	var out []Message
	for {
		msg, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out, s.Err()
}
