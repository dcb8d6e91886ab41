// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by a Port after Close.
var ErrPortClosed = errors.New("port closed")

// Port is an in-memory serial port. Feed queues inbound chunks; when the queue
// is empty Read behaves like a read timeout, or returns Fail's error once set.
type Port struct {
	mu      sync.Mutex
	chunks  [][]byte
	written bytes.Buffer
	failErr error
	closed  bool
	resets  int

	// Timeout is how long an empty Read blocks before returning (0, nil).
	Timeout time.Duration
	// OnWrite, when set, is called with each write and may return a reply
	// that is queued as inbound data.
	OnWrite func(b []byte) []byte
}

func NewPort() *Port { return &Port{Timeout: time.Millisecond} }

// Feed queues lines (or raw fragments) for the reader.
func (p *Port) Feed(chunks ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
}

// Fail makes Read return err once all queued data was consumed.
func (p *Port) Fail(err error) {
	p.mu.Lock()
	p.failErr = err
	p.mu.Unlock()
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	if len(p.chunks) == 0 {
		err := p.failErr
		wait := p.Timeout
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}
		time.Sleep(wait)
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	p.mu.Unlock()
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	p.written.Write(b)
	hook := p.OnWrite
	p.mu.Unlock()
	if hook != nil {
		if reply := hook(append([]byte(nil), b...)); len(reply) > 0 {
			p.Feed(string(reply))
		}
	}
	return len(b), nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

func (p *Port) ResetOutputBuffer() error { return nil }

// Written returns everything written so far.
func (p *Port) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Resets reports how many times the input buffer was reset.
func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}
