package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/config"
	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/orchestrator"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg := config.Load()
	cfg.RunStoreType = "memory"
	cfg.LLMProvider = "mock"
	cfg.TranscribeURL = ""
	cfg.S3Bucket = ""
	cfg.OIDCEnabled = false
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
		_ = a.Close()
	})
	return a
}

func TestBuild_RunsBuiltInFlow(t *testing.T) {
	a := build(t, testConfig(t))

	graph, err := a.Orchestrator.Graph(context.Background(), orchestrator.ContentRepurposingFlow)
	if err != nil {
		t.Fatal(err)
	}
	id, err := a.Orchestrator.Submit(context.Background(), types.WorkflowInput{
		VideoRef:   "local/talk.mp4",
		Keywords:   []string{"cloud", "cost"},
		TrackCosts: true,
	}, graph)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	st, err := a.Orchestrator.Wait(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.WorkflowStatusCompleted {
		t.Fatalf("status = %s, errors = %+v", st.Status, st.Errors)
	}
	if len(st.StageResults) != len(graph.Stages) {
		t.Errorf("results for %d of %d stages", len(st.StageResults), len(graph.Stages))
	}
}

func TestBuild_UnknownRunStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunStoreType = "cassandra"
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected an error for an unknown runstore")
	}
}

func TestBuild_LoadsFlowsDir(t *testing.T) {
	dir := t.TempDir()
	flow := `{"description":"transcript only","graph":{"stages":[{"name":"transcript","agent":"transcriber"}]}}`
	if err := os.WriteFile(filepath.Join(dir, "transcript_only.json"), []byte(flow), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)
	cfg.FlowsDir = dir
	a := build(t, cfg)

	g, err := a.Orchestrator.Graph(context.Background(), "transcript_only")
	if err != nil {
		t.Fatalf("flow from directory not found: %v", err)
	}
	if len(g.Stages) != 1 || g.Stages[0].Agent != "transcriber" {
		t.Errorf("graph = %+v", g)
	}
}

func TestServer_ServesHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitRPS = 10
	a := build(t, cfg)

	srv, err := a.Server(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/system/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("system health = %d", rec.Code)
	}
}
