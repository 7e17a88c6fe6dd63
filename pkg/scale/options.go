package scale

import (
	"time"

	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/stabilize"
)

// WithLogger sets the logger
func WithLogger(logger Logger) func(*Scale) {
	return func(s *Scale) {
		s.logger = logger
	}
}

// WithStabilization sets the stabilization filter parameters
func WithStabilization(cfg stabilize.Config) func(*Scale) {
	return func(s *Scale) {
		s.stabilization = cfg
	}
}

// WithFrameCapacity bounds the telegram length
func WithFrameCapacity(capacity int) func(*Scale) {
	return func(s *Scale) {
		s.frameCapacity = capacity
	}
}

// WithCommandTimeout sets the response timeout of commands issued with a
// context that carries no deadline
func WithCommandTimeout(timeout time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.commandTimeout = timeout
	}
}

// WithOpener replaces the function used to open serial ports
func WithOpener(opener link.Opener) func(*Scale) {
	return func(s *Scale) {
		s.opener = opener
	}
}

// WithErrorBackoff sets the pause after a transport error before listening
// resumes
func WithErrorBackoff(backoff time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.errorBackoff = backoff
	}
}
