// Package export uploads finished workflows and their generated artifacts
// to object storage.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

// DefaultURLExpiry bounds presigned download links.
const DefaultURLExpiry = 24 * time.Hour

const uploadConcurrency = 4

// ErrNotExported is returned when a workflow has no uploaded artifacts.
var ErrNotExported = errors.New("workflow not exported")

// Object is one stored blob.
type Object struct {
	Key         string    `json:"key"`
	URI         string    `json:"uri"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Backend is the object storage the exporter writes to.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (*Object, error)
	List(ctx context.Context, prefix string) ([]*Object, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Artifact is an exported object with its download link.
type Artifact struct {
	Stage string `json:"stage,omitempty"`
	Object
	URL string `json:"url,omitempty"`
}

// Manifest lists everything exported for one workflow.
type Manifest struct {
	WorkflowID string               `json:"workflow_id"`
	Status     types.WorkflowStatus `json:"status"`
	ExportedAt time.Time            `json:"exported_at"`
	Artifacts  []Artifact           `json:"artifacts"`
}

// Exporter writes workflows under workflows/<id>/.
type Exporter struct {
	backend Backend
	expiry  time.Duration
	logger  *slog.Logger
}

// New creates an exporter. expiry <= 0 uses DefaultURLExpiry.
func New(backend Backend, expiry time.Duration, logger *slog.Logger) *Exporter {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{backend: backend, expiry: expiry, logger: logger.With(slog.String("component", "export"))}
}

// Prefix returns the key prefix of a workflow's artifacts.
func Prefix(workflowID string) string {
	return path.Join("workflows", workflowID) + "/"
}

type upload struct {
	stage       string
	key         string
	data        []byte
	contentType string
}

// Export uploads the final state, each successful stage's content as JSON
// and rendered text, and a manifest with presigned links.
func (e *Exporter) Export(ctx context.Context, st *types.PipelineState) (*Manifest, error) {
	prefix := Prefix(st.WorkflowID)

	stateJSON, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	uploads := []upload{{key: prefix + "state.json", data: stateJSON, contentType: "application/json"}}

	for _, name := range st.StageOrder {
		res := st.StageResults[name]
		if res == nil || !res.Success {
			continue
		}
		content, err := json.MarshalIndent(res.Content, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		uploads = append(uploads,
			upload{stage: name, key: prefix + name + ".json", data: content, contentType: "application/json"},
			upload{stage: name, key: prefix + name + extension(res.Content.Kind), data: []byte(res.Content.Text()), contentType: textType(res.Content.Kind)},
		)
	}

	var (
		mu        sync.Mutex
		artifacts = make([]Artifact, 0, len(uploads))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, u := range uploads {
		g.Go(func() error {
			obj, err := e.backend.Put(gctx, u.key, u.data, u.contentType)
			if err != nil {
				return err
			}
			url, err := e.backend.PresignGet(gctx, u.key, e.expiry)
			if err != nil {
				return err
			}
			mu.Lock()
			artifacts = append(artifacts, Artifact{Stage: u.stage, Object: *obj, URL: url})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("export %s: %w", st.WorkflowID, err)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Key < artifacts[j].Key })

	m := &Manifest{
		WorkflowID: st.WorkflowID,
		Status:     st.Status,
		ExportedAt: time.Now().UTC(),
		Artifacts:  artifacts,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := e.backend.Put(ctx, prefix+"manifest.json", data, "application/json"); err != nil {
		return nil, fmt.Errorf("export %s manifest: %w", st.WorkflowID, err)
	}
	return m, nil
}

// OnFinish exports a terminal workflow and logs failures. It matches the
// orchestrator's completion hook.
func (e *Exporter) OnFinish(ctx context.Context, st *types.PipelineState) {
	m, err := e.Export(ctx, st)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("error").Inc()
		e.logger.Error("export failed", slog.String("workflow_id", st.WorkflowID), slog.Any("error", err))
		return
	}
	metrics.ExportsTotal.WithLabelValues("success").Inc()
	e.logger.Info("workflow exported", slog.String("workflow_id", st.WorkflowID), slog.Int("artifacts", len(m.Artifacts)))
}

// Links lists a workflow's stored objects with fresh presigned URLs.
func (e *Exporter) Links(ctx context.Context, workflowID string) ([]Artifact, error) {
	objs, err := e.backend.List(ctx, Prefix(workflowID))
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, ErrNotExported
	}
	out := make([]Artifact, 0, len(objs))
	for _, obj := range objs {
		url, err := e.backend.PresignGet(ctx, obj.Key, e.expiry)
		if err != nil {
			return nil, err
		}
		out = append(out, Artifact{Object: *obj, URL: url})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func extension(k types.ContentKind) string {
	switch k {
	case types.KindBlog, types.KindNewsletter, types.KindScript:
		return ".md"
	}
	return ".txt"
}

func textType(k types.ContentKind) string {
	if extension(k) == ".md" {
		return "text/markdown; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}
