package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/transcast/internal/cluster"
)

func TestRegisterNewNode(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)

	info := r.Register(cluster.NodeInfo{ID: "w1", Addr: "localhost:9001", Role: cluster.RoleWorker})

	assert.Equal(t, cluster.LivenessAlive, info.Liveness)
	assert.Equal(t, 0.5, info.LastScore)
	assert.False(t, info.RegisteredAt.IsZero())
}

func TestRegisterRefreshesExisting(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	first := r.Register(cluster.NodeInfo{ID: "w1", Addr: "localhost:9001", Role: cluster.RoleWorker})

	time.Sleep(time.Millisecond)
	second := r.Register(cluster.NodeInfo{ID: "w1", Addr: "localhost:9002", Role: cluster.RoleWorker})

	assert.Equal(t, first.RegisteredAt, second.RegisteredAt, "re-registration keeps original RegisteredAt")
	assert.Equal(t, "localhost:9002", second.Addr)
	assert.True(t, second.LastHeartbeatAt.After(first.LastHeartbeatAt))
}

func TestReportScoreUnknownNode(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	err := r.ReportScore(cluster.ScoreReport{NodeID: "ghost", Score: 0.2, Timestamp: time.Now()})
	require.Error(t, err)
}

func TestReportScoreLastWriterWins(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	r.Register(cluster.NodeInfo{ID: "w1", Addr: "a", Role: cluster.RoleWorker})

	now := time.Now()
	require.NoError(t, r.ReportScore(cluster.ScoreReport{NodeID: "w1", Score: 0.3, Timestamp: now}))
	require.NoError(t, r.ReportScore(cluster.ScoreReport{NodeID: "w1", Score: 0.9, Timestamp: now.Add(-time.Second)}))

	info, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, 0.3, info.LastScore, "an older report must not overwrite a newer one")
}

func TestReconcileLivenessDowngradesSilentNodes(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	r.Register(cluster.NodeInfo{ID: "w1", Addr: "a", Role: cluster.RoleWorker})

	base := time.Now()
	r.ReconcileLiveness(base.Add(7 * time.Second))
	info, _ := r.Get("w1")
	assert.Equal(t, cluster.LivenessSuspect, info.Liveness)

	r.ReconcileLiveness(base.Add(16 * time.Second))
	info, _ = r.Get("w1")
	assert.Equal(t, cluster.LivenessDead, info.Liveness)
}

func TestSelectWorkerPrefersLowestScore(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	r.Register(cluster.NodeInfo{ID: "w1", Addr: "10.0.0.1:9001", Role: cluster.RoleWorker})
	r.Register(cluster.NodeInfo{ID: "w2", Addr: "10.0.0.2:9001", Role: cluster.RoleWorker})

	now := time.Now()
	require.NoError(t, r.ReportScore(cluster.ScoreReport{NodeID: "w1", Score: 0.1, Timestamp: now}))
	require.NoError(t, r.ReportScore(cluster.ScoreReport{NodeID: "w2", Score: 0.9, Timestamp: now}))

	picked, ok := r.SelectWorker(now, nil)
	require.True(t, ok)
	assert.Equal(t, "w1", picked.ID)
}

func TestSelectWorkerTieBreaksByInFlightThenAddress(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	r.Register(cluster.NodeInfo{ID: "w1", Addr: "10.0.0.2:9001", Role: cluster.RoleWorker})
	r.Register(cluster.NodeInfo{ID: "w2", Addr: "10.0.0.1:9001", Role: cluster.RoleWorker})

	now := time.Now()
	require.NoError(t, r.ReportScore(cluster.ScoreReport{NodeID: "w1", Score: 0.5, Timestamp: now}))
	require.NoError(t, r.ReportScore(cluster.ScoreReport{NodeID: "w2", Score: 0.5, Timestamp: now}))

	picked, ok := r.SelectWorker(now, nil)
	require.True(t, ok)
	assert.Equal(t, "w2", picked.ID, "equal score and in-flight breaks tie by lexicographically smaller address")

	r.IncInFlight("w2")
	picked, ok = r.SelectWorker(now, nil)
	require.True(t, ok)
	assert.Equal(t, "w1", picked.ID, "w2 now has more in-flight work")
}

func TestSelectWorkerRespectsExcludeSet(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	r.Register(cluster.NodeInfo{ID: "w1", Addr: "a", Role: cluster.RoleWorker})

	_, ok := r.SelectWorker(time.Now(), map[string]bool{"w1": true})
	assert.False(t, ok)
}

func TestEligibleWorkersBucketsStaleScoreAsNeutral(t *testing.T) {
	r := New(6*time.Second, 15*time.Second, 10*time.Second)
	r.Register(cluster.NodeInfo{ID: "w1", Addr: "a", Role: cluster.RoleWorker})

	old := time.Now().Add(-time.Hour)
	require.NoError(t, r.ReportScore(cluster.ScoreReport{NodeID: "w1", Score: 0.01, Timestamp: old}))

	workers := r.EligibleWorkers(time.Now())
	require.Len(t, workers, 1)
	assert.Equal(t, 0.5, workers[0].LastScore)
}
