// Package stabilize decides when an object placed on the scale has settled.
//
// The filter is edge-triggered: a settle produces exactly one stable weight,
// regardless of how long the object stays on the scale afterwards. It re-arms
// only once the weight drops to or below the minimum weight, i.e. the object
// was removed.
package stabilize

import (
	"math"
	"sync"

	"github.com/itohio/goweigh/pkg/config"
	"github.com/itohio/goweigh/pkg/telegram"
)

// Config contains the filter parameters.
type Config struct {
	SameCount  int             // Consecutive matching samples required for a settle
	ErrorLimit telegram.Weight // Maximum difference between two matching samples
	MinWeight  telegram.Weight // At or below this weight the scale is empty
}

// ConfigFrom converts the file configuration to filter parameters.
//
// Thresholds are truncated to whole tenths: samples are whole tenths, so
// comparing a sample with 0.25 gives the same result as comparing it with 0.2.
func ConfigFrom(c config.StabilizationConfig) Config {
	return Config{
		SameCount:  c.SameCount,
		ErrorLimit: threshold(c.ErrorLimit),
		MinWeight:  threshold(c.MinWeight),
	}
}

// threshold converts v to the largest whole number of tenths not above it.
// The epsilon absorbs representation error of values meant as whole tenths.
func threshold(v float64) telegram.Weight {
	return telegram.Weight(math.Floor(v*10 + 1e-9))
}

// DefaultConfig returns the stock parameters: ten matching samples within 0.1
// above 0.2.
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Stabilization)
}

// State is the complete memory of the filter between two samples.
type State struct {
	ConsecutiveMatches int
	LastWeight         telegram.Weight
	AwaitingNewObject  bool
}

// NewState returns an armed state.
func NewState() State {
	return State{AwaitingNewObject: true}
}

// Step feeds one sample through the filter. It returns the next state and,
// if the sample completed a settle, the stable weight.
//
// A sample that differs from the previous one by more than ErrorLimit does
// not reset the match count, it only becomes the new reference weight.
func Step(cfg Config, st State, sample telegram.Weight) (State, telegram.Weight, bool) {
	if sample <= cfg.MinWeight {
		st.ConsecutiveMatches = 0
		st.AwaitingNewObject = true
		st.LastWeight = sample
		return st, 0, false
	}

	switch {
	case st.LastWeight <= cfg.MinWeight:
		// First sample of an object, it opens the run of matching samples
		st.ConsecutiveMatches = 1
	case abs(sample-st.LastWeight) <= cfg.ErrorLimit:
		st.ConsecutiveMatches++
	}
	st.LastWeight = sample

	if st.ConsecutiveMatches >= cfg.SameCount && st.AwaitingNewObject && sample >= cfg.MinWeight {
		st.ConsecutiveMatches = 0
		st.LastWeight = sample
		st.AwaitingNewObject = false
		return st, sample, true
	}

	return st, 0, false
}

// Filter owns a State and applies Step to it. It is safe for concurrent use.
type Filter struct {
	cfg Config

	mu    sync.Mutex
	state State
}

// New creates an armed filter.
func New(cfg Config) *Filter {
	if cfg.SameCount < 1 {
		cfg.SameCount = 1
	}

	return &Filter{
		cfg:   cfg,
		state: NewState(),
	}
}

// Add feeds a sample and reports whether it completed a settle.
func (f *Filter) Add(sample telegram.Weight) (telegram.Weight, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		stable telegram.Weight
		ok     bool
	)
	f.state, stable, ok = Step(f.cfg, f.state, sample)

	return stable, ok
}

// State returns a snapshot of the current state.
func (f *Filter) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Config returns the filter parameters.
func (f *Filter) Config() Config {
	return f.cfg
}

// Reset re-arms the filter and forgets the last weight.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = NewState()
}

func abs(w telegram.Weight) telegram.Weight {
	if w < 0 {
		return -w
	}
	return w
}
