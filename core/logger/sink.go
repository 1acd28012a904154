package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errSinkClosed = errors.New("logger: sink closed")

// sink serializes encoded lines onto its outputs from a single goroutine so
// callers never block on a slow file or terminal.
type sink struct {
	ops  chan sinkOp
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

// sinkOp carries either a line or a flush acknowledgement channel.
type sinkOp struct {
	line []byte
	ack  chan error
}

func newSink(bufSize int, outs ...io.Writer) *sink {
	if bufSize <= 0 {
		bufSize = 64 << 10
	}
	var targets []io.Writer
	for _, w := range outs {
		if w != nil {
			targets = append(targets, w)
		}
	}
	s := &sink{ops: make(chan sinkOp, 256), done: make(chan struct{})}
	go s.run(bufio.NewWriterSize(io.MultiWriter(targets...), bufSize))
	return s
}

func (s *sink) run(w *bufio.Writer) {
	defer close(s.done)
	for op := range s.ops {
		if op.ack != nil {
			op.ack <- w.Flush()
			continue
		}
		if _, err := w.Write(op.line); err != nil {
			s.fail(err)
			continue
		}
		// Flush once the backlog is drained.
		if len(s.ops) == 0 {
			if err := w.Flush(); err != nil {
				s.fail(err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		s.fail(err)
	}
}

// write queues a copy of line. It reports the first output error seen so far.
func (s *sink) write(line []byte) error {
	if err := s.lastErr(); err != nil {
		return err
	}
	if len(line) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSinkClosed
	}
	s.ops <- sinkOp{line: append([]byte(nil), line...)}
	return nil
}

// flush blocks until every queued line reached the outputs.
func (s *sink) flush() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return s.lastErr()
	}
	ack := make(chan error, 1)
	s.ops <- sinkOp{ack: ack}
	s.mu.RUnlock()
	if err := <-ack; err != nil {
		return err
	}
	return s.lastErr()
}

// close drains the queue. Later writes fail with errSinkClosed.
func (s *sink) close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ops)
	}
	s.mu.Unlock()
	<-s.done
	return s.lastErr()
}

func (s *sink) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *sink) lastErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
