package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stream delivers the deltas of one streaming generation. It has a single
// consumer and can be read to completion once.
type Stream struct {
	RequestID string
	MaxTokens int

	m     *Manager
	g     *ActiveGeneration
	items chan string
	// result is what Recv returns once items is closed; written by the
	// worker before the close.
	result error

	timer    *time.Timer
	stopCtx  func() bool
	mu       sync.Mutex
	finished bool
	closed   atomic.Bool
	iterated atomic.Bool

	contentMu sync.Mutex
	content   strings.Builder
}

// GenerateStream admits a streaming generation and starts its worker. The
// timeout runs from admission; cancelling ctx cancels the generation.
func (m *Manager) GenerateStream(ctx context.Context, prompt string, opts Options) (*Stream, error) {
	g, wctx, req, params, err := m.begin(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		RequestID: g.RequestID,
		MaxTokens: params.MaxTokens,
		m:         m,
		g:         g,
		items:     make(chan string, m.cfg.StreamBuffer),
	}
	s.timer = time.AfterFunc(m.remaining(g), func() { m.settle(g, StateTimedOut, nil) })
	s.stopCtx = context.AfterFunc(ctx, func() { m.settle(g, StateCancelled, ctx.Err()) })

	go s.produce(wctx, req.Prompt, params)
	return s, nil
}

// produce runs the model and settles the generation as soon as the model
// returns, so the slot never waits on a slow consumer. Deltas already
// handed off stay buffered for Recv.
func (s *Stream) produce(ctx context.Context, prompt string, p Params) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panic: %v", r)
		}
		s.finish(err)
	}()
	s.g.markRunning()
	err = s.m.model.GenerateStream(ctx, prompt, p, func(delta string) error {
		if delta == "" {
			return nil
		}
		select {
		case s.items <- delta:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (s *Stream) finish(err error) {
	g := s.g
	switch {
	case err == nil:
		if s.m.settle(g, StateCompleted, nil) {
			s.result = io.EOF
		}
	case errors.Is(err, context.DeadlineExceeded):
		if s.m.settle(g, StateTimedOut, err) {
			s.result = s.m.timeoutErr(g)
		}
	default:
		if s.m.settle(g, StateFailed, err) {
			s.result = &StreamingError{RequestID: g.RequestID, Cause: err}
		}
	}
	if s.result == nil {
		s.result = s.m.terminalErr(g)
	}
	s.cleanup()
	close(s.items)
}

// Recv returns the next delta. Buffered deltas are delivered before the
// outcome: io.EOF after a successful end, *StreamingError when the worker
// failed, *GenerationTimeout when the deadline passed. Once the stream is
// finished it returns ErrStreamConsumed.
func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed.Load() {
		return "", ErrStreamConsumed
	}
	select {
	case d, ok := <-s.items:
		return s.deliver(d, ok)
	case <-s.g.Done():
	}
	// Completed and Failed are only set by the worker, which closes items
	// right after.
	if st := s.g.State(); st == StateCompleted || st == StateFailed {
		d, ok := <-s.items
		return s.deliver(d, ok)
	}
	select {
	case d, ok := <-s.items:
		return s.deliver(d, ok)
	default:
	}
	s.finished = true
	s.cleanup()
	return "", s.m.terminalErr(s.g)
}

func (s *Stream) deliver(delta string, ok bool) (string, error) {
	if !ok {
		s.finished = true
		return "", s.result
	}
	s.contentMu.Lock()
	s.content.WriteString(delta)
	s.contentMu.Unlock()
	return delta, nil
}

func (s *Stream) cleanup() {
	s.timer.Stop()
	s.stopCtx()
}

// Close abandons the stream and cancels the worker. Closing a finished
// stream is a no-op.
func (s *Stream) Close() error {
	s.closed.Store(true)
	s.m.settle(s.g, StateCancelled, nil)
	s.cleanup()
	return nil
}

// Content returns the text received so far.
func (s *Stream) Content() string {
	s.contentMu.Lock()
	defer s.contentMu.Unlock()
	return s.content.String()
}

// Iter ranges over the deltas. Only the first call iterates; later calls
// yield a single ErrStreamConsumed. Breaking out of the loop closes the
// stream.
func (s *Stream) Iter() iter.Seq2[string, error] {
	if !s.iterated.CompareAndSwap(false, true) {
		return func(yield func(string, error) bool) { yield("", ErrStreamConsumed) }
	}
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			d, err := s.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}
