// Package scale implements the driver for serial scales streaming framed
// weight telegrams. It turns the byte stream into decoded samples, runs them
// through the stabilization filter and dispatches one StableWeight per object
// placed on the scale. Auxiliary commands share the same link.
package scale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatih/stopwatch"
	"github.com/google/uuid"
	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/stabilize"
	"github.com/itohio/goweigh/pkg/telegram"
	"go.uber.org/atomic"
)

const (
	// DefaultCommandTimeout bounds a command exchange if the context has no
	// deadline.
	DefaultCommandTimeout = 500 * time.Millisecond

	// DefaultErrorBackoff is the pause after a transport error.
	DefaultErrorBackoff = 100 * time.Millisecond
)

var (
	errBusy      = errors.New("byte stream owned by a command exchange")
	errRecovered = errors.New("recovered from panic")
)

// Scale denotes a scale attached to a serial port
type Scale struct {
	*Dispatcher

	link   *link.Link
	filter *stabilize.Filter
	logger Logger

	opener         link.Opener
	stabilization  stabilize.Config
	frameCapacity  int
	commandTimeout time.Duration
	errorBackoff   time.Duration

	// exchange owns the byte stream. The receive path only ever tries to
	// acquire it, a command exchange holds it for its whole duration.
	exchange sync.Mutex

	mu          sync.Mutex // Serializes Open and Close
	cancel      context.CancelFunc
	done        chan struct{}
	closing     atomic.Bool
	dispatching atomic.Bool // Listener is running handlers

	sequence atomic.Uint64

	// Owned by the listener goroutine
	settle *stopwatch.Stopwatch
}

// New instantiates a new closed Scale, executing functional options, if any
func New(options ...func(*Scale)) *Scale {
	s := &Scale{
		logger:         &NullLogger{},
		opener:         link.SerialOpener,
		stabilization:  stabilize.DefaultConfig(),
		frameCapacity:  telegram.DefaultCapacity,
		commandTimeout: DefaultCommandTimeout,
		errorBackoff:   DefaultErrorBackoff,
	}

	for _, option := range options {
		option(s)
	}

	if s.logger == nil {
		s.logger = &NullLogger{}
	}
	if s.frameCapacity <= 0 {
		s.frameCapacity = telegram.DefaultCapacity
	}
	if s.commandTimeout <= 0 {
		s.commandTimeout = DefaultCommandTimeout
	}

	s.Dispatcher = NewDispatcher(s.logger)
	s.link = link.New(link.WithOpener(s.opener))
	s.filter = stabilize.New(s.stabilization)

	return s
}

// Open opens the port and starts listening for telegrams. An open scale is
// closed first. The stabilization filter starts armed.
func (s *Scale) Open(cfg link.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	if err := s.link.Open(cfg); err != nil {
		return err
	}

	s.filter.Reset()
	s.settle = nil
	s.closing.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.listen(ctx, s.done)

	s.logger.Infof("listening on %s", cfg)

	return nil
}

// Close stops listening and closes the port. It is safe to call repeatedly
// and after a failed Open.
func (s *Scale) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	return s.link.Close()
}

func (s *Scale) stopLocked() {
	if s.cancel == nil {
		return
	}

	s.closing.Store(true)
	s.cancel()
	// Called from a handler the listener cannot be waited for. It returns
	// without touching the link once the handler returns.
	if !s.dispatching.Load() {
		<-s.done
	}
	s.cancel = nil
}

// IsOpen reports whether the port is open.
func (s *Scale) IsOpen() bool {
	return s.link.IsOpen()
}

// Config returns the port configuration applied by the last successful Open.
func (s *Scale) Config() link.Config {
	return s.link.Config()
}

// Write writes raw bytes to the scale.
func (s *Scale) Write(p []byte) (int, error) {
	return s.link.Write(p)
}

// WriteString writes a string to the scale.
func (s *Scale) WriteString(str string) (int, error) {
	return s.link.WriteString(str)
}

// Stabilization returns a snapshot of the stabilization filter state.
func (s *Scale) Stabilization() stabilize.State {
	return s.filter.State()
}

////////////////////////////////////////////////////////////////////////////////

// listen turns the timeout-bounded serial read into a stream of receive
// invocations until ctx is cancelled.
func (s *Scale) listen(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		err := s.poll()
		switch {
		case err == nil:
		case errors.Is(err, errBusy):
			// Wait for the command exchange to finish instead of spinning
			s.exchange.Lock()
			s.exchange.Unlock()
		case errors.Is(err, errRecovered):
			sleepWithContext(ctx, s.errorBackoff)
		default:
			if s.closing.Load() {
				return
			}
			ev := PortError{
				Timestamp: time.Now(),
				Err:       err,
			}
			s.deliver(func() { s.dispatchPortError(ev) })
			sleepWithContext(ctx, s.errorBackoff)
		}
	}
}

// poll runs a single receive invocation and consumes its telegram, if any.
func (s *Scale) poll() (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("recovered from panic in receive path: %v", r)
			err = errRecovered
		}
	}()

	payload, ok, err := s.receive()
	if err != nil || !ok {
		return err
	}

	weight, err := telegram.Decode(payload)
	if err != nil {
		// Malformed telegrams count as an empty scale
		s.logger.Debugf("%s", err)
	}
	s.consume(weight)

	return nil
}

// receive reads at most one telegram. It returns false without error when
// the line was idle, the first byte was not a start marker or the frame was
// cut short.
func (s *Scale) receive() ([]byte, bool, error) {
	if s.closing.Load() {
		return nil, false, nil
	}
	if !s.exchange.TryLock() {
		return nil, false, errBusy
	}
	defer s.exchange.Unlock()

	payload, err := telegram.ReadFrame(s.link, s.frameCapacity)
	switch {
	case err == nil:
		return payload, true, nil
	case errors.Is(err, telegram.ErrNoStartMarker):
		s.logger.Debug("dropping stray byte")
		return nil, false, nil
	case errors.Is(err, link.ErrTimeout):
		if errors.Is(err, telegram.ErrIncompleteFrame) {
			s.logger.Debugf("dropping telegram: %s", err)
		}
		return nil, false, nil
	}

	return nil, false, fmt.Errorf("failed to receive telegram: %w", err)
}

// consume feeds the sample to the stabilization filter and dispatches the
// sample and the stable weight, if any. The driver state is updated before
// any handler runs.
func (s *Scale) consume(weight telegram.Weight) {
	now := time.Now()
	seq := s.sequence.Inc()

	cfg := s.filter.Config()
	if weight > cfg.MinWeight && s.filter.State().LastWeight <= cfg.MinWeight {
		s.settle = stopwatch.Start(0)
	}

	stable, ok := s.filter.Add(weight)

	var ev StableWeight
	if ok {
		ev = StableWeight{
			ID:        uuid.New(),
			Weight:    stable,
			Timestamp: now,
			Sequence:  seq,
		}
		if s.settle != nil {
			ev.SettleTime = s.settle.ElapsedTime()
			s.settle = nil
		}
		s.logger.Debugf("stable weight %s", ev)
	}

	s.deliver(func() {
		s.dispatchSample(Sample{
			Sequence:  seq,
			Weight:    weight,
			Timestamp: now,
		})
		if ok {
			s.dispatchStableWeight(ev)
		}
	})
}

// deliver runs handlers on the listener goroutine. While it runs, Close does
// not wait for the listener, so a handler may close the scale.
func (s *Scale) deliver(fn func()) {
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	fn()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
