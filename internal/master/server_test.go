package master

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/transcast/internal/cluster"
	"github.com/dreamware/transcast/internal/config"
	"github.com/dreamware/transcast/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.FromEnv()
	cfg.DataDir = t.TempDir()
	cfg.MasterSilence = 100 * time.Millisecond
	s := New("master-1", "127.0.0.1:0", cfg, store)
	s.uploadsDir = cfg.DataDir + "/uploads"
	s.workDir = cfg.DataDir + "/work"

	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestRegisterWorkerRefreshesOnDuplicateCall(t *testing.T) {
	_, ts := newTestServer(t)

	req := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "w1", Addr: "127.0.0.1:9001", Role: cluster.RoleWorker}}
	body, _ := json.Marshal(req)

	var first, second cluster.RegisterResponse
	postJSON(t, ts.URL+"/worker/register", body, &first)
	postJSON(t, ts.URL+"/worker/register", body, &second)

	if first.Node.ID != "w1" || second.Node.ID != "w1" {
		t.Fatalf("expected node id w1 in both responses, got %+v, %+v", first, second)
	}
	if !second.Node.RegisteredAt.Equal(first.Node.RegisteredAt) {
		t.Fatalf("expected RegisteredAt to stay stable across re-registration")
	}
}

func TestStatusForUnknownJobIsNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status/does-not-exist")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var status cluster.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "not_found" {
		t.Fatalf("expected not_found status, got %q", status.Status)
	}
}

func TestCurrentMasterReflectsElectionState(t *testing.T) {
	s, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.elect.Start(ctx)
	time.Sleep(400 * time.Millisecond)

	var resp cluster.CurrentMasterResponse
	getJSON(t, ts.URL+"/master", &resp)
	if resp.MasterAddr == "" {
		t.Fatalf("expected a lone node to elect itself master")
	}
}

func TestReportScoreRejectsUnknownNode(t *testing.T) {
	_, ts := newTestServer(t)

	report := cluster.ScoreReport{NodeID: "ghost", Score: 0.5, Timestamp: time.Now()}
	body, _ := json.Marshal(report)

	resp, err := http.Post(ts.URL+"/worker/score", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /worker/score: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered node, got %d", resp.StatusCode)
	}
}

func postJSON(t *testing.T, url string, body []byte, out any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
}
