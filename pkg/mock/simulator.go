package mock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/itohio/goweigh/pkg/config"
	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/telegram"
	"go.bug.st/serial"
)

// Simulator is a Port that behaves like a scale with an object being placed,
// left to settle, held and removed over and over again. It streams one
// telegram per sample period while open.
type Simulator struct {
	*Port

	cfg config.MockConfig

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startTime time.Time
}

// Ensure Simulator implements link.Port.
var _ link.Port = (*Simulator)(nil)

// NewSimulator creates a simulated scale. A nil cfg uses the defaults.
func NewSimulator(cfg *config.MockConfig) *Simulator {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	return &Simulator{
		Port: NewPort(),
		cfg:  *cfg,
	}
}

// Opener returns a link.Opener that starts the simulation on open.
func (s *Simulator) Opener() link.Opener {
	return func(string, *serial.Mode) (link.Port, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.Port.mu.Lock()
		s.Port.closed = false
		s.Port.mu.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		s.startTime = time.Now()

		go s.generateTelegrams(ctx, s.done)

		return s, nil
	}
}

// Close stops the simulation and closes the port.
func (s *Simulator) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	return s.Port.Close()
}

// generateTelegrams streams simulated telegrams.
func (s *Simulator) generateTelegrams(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.FeedTelegram(s.weightAt(now.Sub(s.startTime)))
		}
	}
}

// weightAt returns the simulated reading at the given time since start.
//
// One cycle is EmptyDuration with nothing on the scale, SettleTime with the
// object swinging with a decaying amplitude, HoldDuration at rest with small
// noise.
func (s *Simulator) weightAt(elapsed time.Duration) telegram.Weight {
	period := s.cfg.EmptyDuration + s.cfg.SettleTime + s.cfg.HoldDuration
	if period <= 0 {
		return telegram.FromFloat(s.cfg.ObjectWeight)
	}
	t := elapsed % period

	if t < s.cfg.EmptyDuration {
		return 0
	}
	t -= s.cfg.EmptyDuration

	weight := s.cfg.ObjectWeight
	x := t.Seconds()
	if t < s.cfg.SettleTime {
		// Damped oscillation around the object weight
		tau := s.cfg.SettleTime.Seconds() / 4
		weight += s.cfg.ObjectWeight * 0.2 * math.Exp(-x/tau) * math.Cos(2*math.Pi*3*x)
	} else {
		weight += (math.Sin(x*7.3) + math.Cos(x*11.9)) * s.cfg.Noise * 0.5
	}

	if weight < 0 {
		weight = 0
	}
	return telegram.FromFloat(weight)
}
