package stabilize

import (
	"sync"
	"testing"

	"github.com/itohio/goweigh/pkg/config"
	"github.com/itohio/goweigh/pkg/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		SameCount:  10,
		ErrorLimit: telegram.FromFloat(0.1),
		MinWeight:  telegram.FromFloat(0.2),
	}
}

// feed runs samples through a fresh filter and returns the stable weights
// together with the index of the sample that produced them.
func feed(f *Filter, samples ...float64) (weights []telegram.Weight, at []int) {
	for i, s := range samples {
		if w, ok := f.Add(telegram.FromFloat(s)); ok {
			weights = append(weights, w)
			at = append(at, i)
		}
	}
	return weights, at
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.StabilizationConfig{SameCount: 5, ErrorLimit: 0.3, MinWeight: 1.25})
	assert.Equal(t, 5, cfg.SameCount)
	assert.Equal(t, telegram.Weight(3), cfg.ErrorLimit)
	assert.Equal(t, telegram.Weight(12), cfg.MinWeight)

	assert.Equal(t, testConfig(), DefaultConfig())
}

func TestConfigFrom_Thresholds(t *testing.T) {
	tests := []struct {
		value float64
		want  telegram.Weight
	}{
		{0, 0},
		{0.05, 0},
		{0.1, 1},
		{0.2, 2},
		{0.25, 2},
		{0.3, 3},
		{0.7, 7},
		{1.99, 19},
		{125.4, 1254},
	}

	for _, tt := range tests {
		cfg := ConfigFrom(config.StabilizationConfig{SameCount: 1, ErrorLimit: tt.value, MinWeight: tt.value})
		assert.Equal(t, tt.want, cfg.ErrorLimit, "error limit %v", tt.value)
		assert.Equal(t, tt.want, cfg.MinWeight, "min weight %v", tt.value)
	}
}

func TestFilter_FractionalMinWeight(t *testing.T) {
	f := New(ConfigFrom(config.StabilizationConfig{SameCount: 3, ErrorLimit: 0.1, MinWeight: 0.25}))

	// 0.3 is above 0.25, the object is present
	weights, _ := feed(f, 0.0, 0.3, 0.3, 0.3, 0.3, 0.3)
	assert.Equal(t, []telegram.Weight{3}, weights)
}

func TestFilter_FractionalErrorLimit(t *testing.T) {
	cfg := ConfigFrom(config.StabilizationConfig{SameCount: 3, ErrorLimit: 0.05, MinWeight: 0.2})

	// A step of 0.1 exceeds a tolerance of 0.05 and does not count as a match
	st, _, _ := Step(cfg, NewState(), telegram.FromFloat(5.0))
	st, _, _ = Step(cfg, st, telegram.FromFloat(5.1))
	assert.Equal(t, 1, st.ConsecutiveMatches)

	st, _, _ = Step(cfg, st, telegram.FromFloat(5.1))
	assert.Equal(t, 2, st.ConsecutiveMatches)
}

func TestNewState_Armed(t *testing.T) {
	st := NewState()
	assert.True(t, st.AwaitingNewObject)
	assert.Zero(t, st.ConsecutiveMatches)
	assert.Zero(t, st.LastWeight)
}

func TestFilter_NoEventAtOrBelowMinWeight(t *testing.T) {
	f := New(testConfig())

	samples := append(repeat(0.0, 50), repeat(0.2, 50)...)
	samples = append(samples, repeat(0.1, 50)...)

	weights, _ := feed(f, samples...)
	assert.Empty(t, weights)
	assert.True(t, f.State().AwaitingNewObject)
	assert.Zero(t, f.State().ConsecutiveMatches)
}

func TestFilter_SingleEventPerSettle(t *testing.T) {
	f := New(testConfig())

	samples := append([]float64{0.0}, repeat(5.0, 10)...)
	weights, at := feed(f, samples...)
	require.Len(t, weights, 1)
	assert.Equal(t, telegram.FromFloat(5.0), weights[0])
	assert.Equal(t, 10, at[0], "the tenth matching sample completes the settle")

	// An 11th identical sample does not produce another event
	w, ok := f.Add(telegram.FromFloat(5.0))
	assert.False(t, ok)
	assert.Zero(t, w)

	st := f.State()
	assert.False(t, st.AwaitingNewObject)
	assert.Equal(t, telegram.FromFloat(5.0), st.LastWeight)
}

func TestFilter_SteadyObjectDoesNotRetrigger(t *testing.T) {
	f := New(testConfig())

	samples := append([]float64{0.0}, repeat(5.0, 500)...)
	weights, _ := feed(f, samples...)
	assert.Len(t, weights, 1)
}

func TestFilter_RemovalRearms(t *testing.T) {
	f := New(testConfig())

	samples := append([]float64{0.0}, repeat(5.0, 30)...)
	samples = append(samples, 0.2) // removed, exactly at the threshold
	samples = append(samples, repeat(7.5, 10)...)

	weights, at := feed(f, samples...)
	require.Len(t, weights, 2)
	assert.Equal(t, telegram.FromFloat(5.0), weights[0])
	assert.Equal(t, telegram.FromFloat(7.5), weights[1])
	assert.Equal(t, len(samples)-1, at[1])
}

func TestFilter_NotEnoughMatches(t *testing.T) {
	f := New(testConfig())

	samples := append([]float64{0.0}, repeat(5.0, 9)...)
	samples = append(samples, 0.0)
	samples = append(samples, repeat(5.0, 9)...)

	weights, _ := feed(f, samples...)
	assert.Empty(t, weights)
}

func TestFilter_WithinTolerance(t *testing.T) {
	f := New(testConfig())

	// Jitter of exactly the error limit still matches
	samples := []float64{0.0, 5.0, 5.1, 5.0, 5.1, 5.0, 5.1, 5.0, 5.1, 5.0, 5.1}
	weights, at := feed(f, samples...)
	require.Len(t, weights, 1)
	assert.Equal(t, telegram.FromFloat(5.1), weights[0])
	assert.Equal(t, 10, at[0])
}

// A sample outside the tolerance of its predecessor does not reset the match
// count: it only becomes the new reference weight. A swinging object therefore
// settles after SameCount matches in total, not SameCount matches in a row.
func TestFilter_OutOfToleranceKeepsCount(t *testing.T) {
	f := New(testConfig())

	samples := append([]float64{0.0}, repeat(5.0, 6)...) // 6 matches
	samples = append(samples, 9.0)                       // jump, count kept
	samples = append(samples, repeat(9.0, 4)...)         // 4 more matches

	weights, at := feed(f, samples...)
	require.Len(t, weights, 1)
	assert.Equal(t, telegram.FromFloat(9.0), weights[0])
	assert.Equal(t, len(samples)-1, at[0])
}

func TestStep_OutOfToleranceState(t *testing.T) {
	cfg := testConfig()
	st := State{ConsecutiveMatches: 4, LastWeight: 50, AwaitingNewObject: true}

	next, _, ok := Step(cfg, st, 90)
	assert.False(t, ok)
	assert.Equal(t, 4, next.ConsecutiveMatches)
	assert.Equal(t, telegram.Weight(90), next.LastWeight)
}

func TestStep_Pure(t *testing.T) {
	cfg := testConfig()
	st := NewState()

	next, _, _ := Step(cfg, st, 50)
	assert.Equal(t, NewState(), st, "input state must not be modified")
	assert.Equal(t, 1, next.ConsecutiveMatches)
}

func TestStep_EmitResetsState(t *testing.T) {
	cfg := Config{SameCount: 2, ErrorLimit: 1, MinWeight: 2}
	st := NewState()

	st, _, ok := Step(cfg, st, 40)
	require.False(t, ok)
	st, w, ok := Step(cfg, st, 41)
	require.True(t, ok)

	assert.Equal(t, telegram.Weight(41), w)
	assert.Equal(t, State{ConsecutiveMatches: 0, LastWeight: 41, AwaitingNewObject: false}, st)
}

func TestStep_MalformedSampleRearms(t *testing.T) {
	// Malformed telegrams decode to zero and count as an empty scale
	cfg := testConfig()
	st := State{ConsecutiveMatches: 0, LastWeight: 50, AwaitingNewObject: false}

	st, _, ok := Step(cfg, st, 0)
	assert.False(t, ok)
	assert.True(t, st.AwaitingNewObject)
}

func TestFilter_SameCountOne(t *testing.T) {
	f := New(Config{SameCount: 1, ErrorLimit: 1, MinWeight: 2})

	weights, _ := feed(f, 0.0, 5.0, 5.0, 0.0, 3.0)
	assert.Equal(t, []telegram.Weight{50, 30}, weights)
}

func TestFilter_InvalidSameCount(t *testing.T) {
	f := New(Config{SameCount: 0, ErrorLimit: 1, MinWeight: 2})
	assert.Equal(t, 1, f.Config().SameCount)
}

func TestFilter_Reset(t *testing.T) {
	f := New(testConfig())
	feed(f, append([]float64{0.0}, repeat(5.0, 10)...)...)
	require.False(t, f.State().AwaitingNewObject)

	f.Reset()
	assert.Equal(t, NewState(), f.State())
}

func TestFilter_Concurrent(t *testing.T) {
	f := New(testConfig())

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		events int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, ok := f.Add(50); ok {
					mu.Lock()
					events++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, events)
}
