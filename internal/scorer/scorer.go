// Package scorer implements the Resource Scorer (§4.4): a per-node sampler
// that turns load average, I/O wait, network throughput, and memory
// pressure into a single scalar, lower meaning more spare capacity.
package scorer

import (
	"context"
	"time"

	"github.com/dreamware/transcast/internal/config"
)

// Metrics are the four normalized (0..1, roughly) inputs to the score
// formula. Sampler implementations are free to clamp out-of-range values;
// Score does not clamp its inputs, since the formula is linear and a
// slightly out-of-range reading only nudges ordering rather than breaking
// it.
type Metrics struct {
	LoadNormalized float64
	IOWait         float64
	NetUtil        float64
	MemUtil        float64
}

// Sampler produces one Metrics reading. The default implementation reads
// /proc on Linux; tests and non-Linux platforms supply a fake or a
// constant-neutral Sampler through the same seam torua's HealthMonitor
// exposed with SetCheckFunction.
type Sampler interface {
	Sample() (Metrics, error)
}

// Score applies §4.4's weighted sum: score = w1*load + w2*iowait +
// w3*net + w4*mem. Only the ordering of scores across nodes is
// semantically meaningful; the scalar itself is unitless.
func Score(weights config.ScoreWeights, m Metrics) float64 {
	return weights.Load*m.LoadNormalized +
		weights.IOWait*m.IOWait +
		weights.Net*m.NetUtil +
		weights.Mem*m.MemUtil
}

// Scorer periodically samples and reports a score through Report, the same
// ticker-driven background-loop shape as torua's HealthMonitor.Start.
type Scorer struct {
	sampler  Sampler
	weights  config.ScoreWeights
	interval time.Duration
	report   func(score float64, at time.Time)

	cancel context.CancelFunc
}

// New creates a Scorer that samples on the given cadence and invokes
// report with each computed score.
func New(sampler Sampler, weights config.ScoreWeights, interval time.Duration, report func(score float64, at time.Time)) *Scorer {
	return &Scorer{sampler: sampler, weights: weights, interval: interval, report: report}
}

// Start begins the sample-and-report loop, blocking until ctx is canceled
// or Stop is called.
func (s *Scorer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the sampling loop.
func (s *Scorer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scorer) tick() {
	m, err := s.sampler.Sample()
	if err != nil {
		// A failed sample is reported as a neutral score rather than
		// skipped, so a node with a broken /proc read doesn't simply
		// vanish from scheduling consideration until score_ttl expires.
		m = Metrics{LoadNormalized: 0.5, IOWait: 0.5, NetUtil: 0.5, MemUtil: 0.5}
	}
	s.report(Score(s.weights, m), time.Now())
}

// NeutralSampler always reports a neutral 0.5 for every metric. It is the
// fallback sampler on platforms without /proc, and a useful stand-in for
// tests that don't care about scoring mechanics.
type NeutralSampler struct{}

func (NeutralSampler) Sample() (Metrics, error) {
	return Metrics{LoadNormalized: 0.5, IOWait: 0.5, NetUtil: 0.5, MemUtil: 0.5}, nil
}
