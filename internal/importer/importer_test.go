package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scrypster/chronicle/internal/engine"
	"github.com/scrypster/chronicle/internal/llm"
	"github.com/scrypster/chronicle/internal/storage/sqlite"
	"github.com/scrypster/chronicle/pkg/types"
)

// recordingEvolver captures submissions and scripts dedup/failure behavior.
type recordingEvolver struct {
	mu       sync.Mutex
	requests []engine.EvolveRequest
	failOn   string // fail requests whose content contains this substring
	dedupOn  string // report Deduplicated for matching content
}

func (r *recordingEvolver) Evolve(ctx context.Context, req engine.EvolveRequest) (*types.EvolutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && strings.Contains(req.Content, r.failOn) {
		return nil, errors.New("scripted failure")
	}
	r.requests = append(r.requests, req)
	result := &types.EvolutionResult{InteractionID: "int:test", State: types.StatePersisted}
	if r.dedupOn != "" && strings.Contains(req.Content, r.dedupOn) {
		result.Deduplicated = true
	}
	return result, nil
}

func (r *recordingEvolver) recorded() []engine.EvolveRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.EvolveRequest(nil), r.requests...)
}

func writeNote(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestDirectoryImport(t *testing.T) {
	dir := t.TempDir()
	writeNote(t, dir, "alpha.md", "---\ntitle: Alpha\ntags: [x]\n---\n\nAlpha links to [[Beta]].\n")
	writeNote(t, dir, "beta.md", "# Beta\n\nBeta content.\n")
	writeNote(t, dir, "empty.md", "   \n")
	writeNote(t, dir, "notes.txt", "not a note")

	evolver := &recordingEvolver{}
	imp := NewDirectoryImporter(evolver)
	ctx := context.Background()

	jobID, err := imp.StartImport(ctx, dir)
	if err != nil {
		t.Fatalf("StartImport failed: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := imp.Wait(waitCtx, jobID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	result := imp.GetJobResult(jobID)
	if result == nil {
		t.Fatal("expected a completed result")
	}
	if result.FilesFound != 3 {
		t.Errorf("FilesFound = %d, want 3 (txt file excluded)", result.FilesFound)
	}
	if result.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", result.FilesProcessed)
	}
	if result.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1 (empty file)", result.FilesSkipped)
	}
	if result.FilesFailed != 0 {
		t.Errorf("FilesFailed = %d, want 0: %v", result.FilesFailed, result.Errors)
	}

	requests := evolver.recorded()
	if len(requests) != 2 {
		t.Fatalf("recorded %d submissions, want 2", len(requests))
	}
	for _, req := range requests {
		if req.Source != types.SourceDocument {
			t.Errorf("source = %q, want %q", req.Source, types.SourceDocument)
		}
		if req.Metadata["path"] == "" {
			t.Error("submission missing path provenance")
		}
	}

	progress, ok := imp.GetJobProgress(jobID)
	if !ok || progress.Status != "complete" {
		t.Errorf("progress = %+v, want complete", progress)
	}
}

func TestDirectoryImportCountsFailuresAndDedup(t *testing.T) {
	dir := t.TempDir()
	writeNote(t, dir, "good.md", "fresh content\n")
	writeNote(t, dir, "dup.md", "repeat content\n")
	writeNote(t, dir, "bad.md", "poison content\n")

	evolver := &recordingEvolver{failOn: "poison", dedupOn: "repeat"}
	imp := NewDirectoryImporter(evolver)
	ctx := context.Background()

	jobID, err := imp.StartImport(ctx, dir)
	if err != nil {
		t.Fatalf("StartImport failed: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := imp.Wait(waitCtx, jobID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	result := imp.GetJobResult(jobID)
	if result.FilesFailed != 1 {
		t.Errorf("FilesFailed = %d, want 1", result.FilesFailed)
	}
	if result.Deduplicated != 1 {
		t.Errorf("Deduplicated = %d, want 1", result.Deduplicated)
	}
	if result.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", result.FilesProcessed)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want the poisoned file only", result.Errors)
	}
}

func TestStartImportRejectsMissingDir(t *testing.T) {
	imp := NewDirectoryImporter(&recordingEvolver{})
	if _, err := imp.StartImport(context.Background(), "/does/not/exist"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

// noopExtractor satisfies the engine without calling a model.
type noopExtractor struct{}

func (noopExtractor) Extract(ctx context.Context, interaction *types.Interaction) (*llm.ExtractionResult, error) {
	return &llm.ExtractionResult{}, nil
}

// TestImportThroughEngine runs a full import against a real engine and
// in-memory store: notes land in the interaction log and the retrieval view,
// and a re-import is fully deduplicated.
func TestImportThroughEngine(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	eng, err := engine.New(engine.Stores{
		Graph:        store,
		Interactions: store,
		Items:        store,
		Embeddings:   store,
	}, noopExtractor{}, nil, engine.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	dir := t.TempDir()
	writeNote(t, dir, "note.md", "---\ntitle: Note\ndate: 2026-05-01\n---\n\nDurable fact.\n")

	imp := NewDirectoryImporter(eng)
	ctx := context.Background()

	runImport := func() *ImportResult {
		jobID, err := imp.StartImport(ctx, dir)
		if err != nil {
			t.Fatalf("StartImport failed: %v", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := imp.Wait(waitCtx, jobID); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		return imp.GetJobResult(jobID)
	}

	first := runImport()
	if first.FilesProcessed != 1 || first.Deduplicated != 0 {
		t.Fatalf("first import = %+v, want one fresh file", first)
	}

	second := runImport()
	if second.Deduplicated != 1 {
		t.Errorf("second import Deduplicated = %d, want 1", second.Deduplicated)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Interactions != 1 {
		t.Errorf("Interactions = %d, want 1 after deduplicated re-import", stats.Interactions)
	}
}
