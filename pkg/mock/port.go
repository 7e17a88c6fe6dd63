// Package mock provides in-memory serial ports for tests and a simulated scale
// for development without hardware.
package mock

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/telegram"
	"go.bug.st/serial"
)

// Ensure Port implements link.Port.
var _ link.Port = (*Port)(nil)

var errClosed = fmt.Errorf("mock port: %w", link.ErrPortClosed)

// Port is an in-memory serial port. Bytes passed to Feed become readable by
// the driver; bytes written by the driver are recorded and may trigger a
// scripted reply. Reads time out like go.bug.st/serial ports: (0, nil).
type Port struct {
	mu          sync.Mutex
	in          []byte
	written     []byte
	replies     map[string][]byte
	readErrs    []error
	readTimeout time.Duration
	closed      bool
	resets      int

	data chan struct{} // signalled when input arrives or the port closes
}

// NewPort creates an open, empty port.
func NewPort() *Port {
	return &Port{
		replies:     make(map[string][]byte),
		readTimeout: 10 * time.Millisecond,
		data:        make(chan struct{}, 1),
	}
}

// Opener returns a link.Opener that always hands out p.
func (p *Port) Opener() link.Opener {
	return func(string, *serial.Mode) (link.Port, error) {
		p.mu.Lock()
		p.closed = false
		p.mu.Unlock()
		return p, nil
	}
}

// Feed makes b available for reading.
func (p *Port) Feed(b []byte) {
	p.mu.Lock()
	p.in = append(p.in, b...)
	p.mu.Unlock()
	p.signal()
}

// FeedTelegram makes the telegram for w available for reading.
func (p *Port) FeedTelegram(w telegram.Weight) {
	p.Feed(telegram.Encode(w))
}

// Respond makes the port answer a write of request with reply.
func (p *Port) Respond(request, reply []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[string(request)] = append([]byte(nil), reply...)
}

// FailNextRead makes the next read return err.
func (p *Port) FailNextRead(err error) {
	p.mu.Lock()
	p.readErrs = append(p.readErrs, err)
	p.mu.Unlock()
	p.signal()
}

// Written returns everything written to the port so far.
func (p *Port) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// Pending returns the number of bytes not read yet.
func (p *Port) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.in)
}

// InputResets returns how often the input buffer was discarded.
func (p *Port) InputResets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Closed reports whether Close was called since the port was last opened.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Read reads pending input, waiting at most the read timeout.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	deadline := time.Now().Add(p.readTimeout)
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, errClosed
		}
		if len(p.readErrs) > 0 {
			err := p.readErrs[0]
			p.readErrs = p.readErrs[1:]
			p.mu.Unlock()
			return 0, err
		}
		if len(p.in) > 0 {
			n := copy(b, p.in)
			p.in = p.in[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-p.data:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Write records b and queues the scripted reply, if any.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errClosed
	}
	p.written = append(p.written, b...)

	reply, ok := p.replies[string(b)]
	if !ok {
		// Requests may arrive in several writes
		for req, r := range p.replies {
			if bytes.HasSuffix(p.written, []byte(req)) {
				reply, ok = r, true
				break
			}
		}
	}
	if ok {
		p.in = append(p.in, reply...)
	}
	p.mu.Unlock()

	if ok {
		p.signal()
	}
	return len(b), nil
}

// ResetInputBuffer drops pending input.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = nil
	p.resets++
	return nil
}

// ResetOutputBuffer is a no-op, writes are never buffered.
func (p *Port) ResetOutputBuffer() error {
	return nil
}

// SetReadTimeout sets the upper bound of a single Read.
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// Close closes the port. Reads and writes fail afterwards.
func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *Port) signal() {
	select {
	case p.data <- struct{}{}:
	default:
	}
}
