package scorer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/transcast/internal/config"
)

func TestScoreWeightedSum(t *testing.T) {
	weights := config.ScoreWeights{Load: 0.4, IOWait: 0.2, Net: 0.2, Mem: 0.2}
	m := Metrics{LoadNormalized: 1, IOWait: 0, NetUtil: 0, MemUtil: 0}
	if got := Score(weights, m); got != 0.4 {
		t.Errorf("expected 0.4, got %v", got)
	}

	m = Metrics{LoadNormalized: 0.5, IOWait: 0.5, NetUtil: 0.5, MemUtil: 0.5}
	if got := Score(weights, m); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestNeutralSamplerReportsHalf(t *testing.T) {
	m, err := NeutralSampler{}.Sample()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.LoadNormalized != 0.5 || m.IOWait != 0.5 || m.NetUtil != 0.5 || m.MemUtil != 0.5 {
		t.Errorf("expected all-0.5 metrics, got %+v", m)
	}
}

type fakeSampler struct {
	mu      sync.Mutex
	metrics Metrics
	err     error
	calls   int
}

func (f *fakeSampler) Sample() (Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.metrics, f.err
}

func TestScorerReportsOnEachTick(t *testing.T) {
	sampler := &fakeSampler{metrics: Metrics{LoadNormalized: 1, IOWait: 1, NetUtil: 1, MemUtil: 1}}
	weights := config.ScoreWeights{Load: 0.25, IOWait: 0.25, Net: 0.25, Mem: 0.25}

	var mu sync.Mutex
	var reports []float64
	s := New(sampler, weights, 10*time.Millisecond, func(score float64, at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, score)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(reports) < 2 {
		t.Fatalf("expected multiple reports over 55ms at a 10ms cadence, got %d", len(reports))
	}
	for _, r := range reports {
		if r != 1 {
			t.Errorf("expected every report to be 1.0, got %v", r)
		}
	}
}

func TestScorerFallsBackToNeutralOnSampleError(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("proc read failed")}
	weights := config.DefaultScoreWeights

	reported := make(chan float64, 1)
	s := New(sampler, weights, 10*time.Millisecond, func(score float64, at time.Time) {
		select {
		case reported <- score:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	select {
	case score := <-reported:
		if score != Score(weights, Metrics{LoadNormalized: 0.5, IOWait: 0.5, NetUtil: 0.5, MemUtil: 0.5}) {
			t.Errorf("expected neutral-metrics score, got %v", score)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a report")
	}
}

func TestStopHaltsReporting(t *testing.T) {
	sampler := &fakeSampler{metrics: Metrics{}}
	s := New(sampler, config.DefaultScoreWeights, 5*time.Millisecond, func(float64, time.Time) {})

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Start to return after Stop")
	}
}
