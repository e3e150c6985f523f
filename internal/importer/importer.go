package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/chronicle/internal/engine"
	"github.com/scrypster/chronicle/pkg/types"
)

// Evolver is the slice of the engine the importer needs.
type Evolver interface {
	Evolve(ctx context.Context, req engine.EvolveRequest) (*types.EvolutionResult, error)
}

// ImportResult is the final summary produced by a completed import job.
type ImportResult struct {
	JobID          string        `json:"job_id"`
	FilesFound     int           `json:"files_found"`
	FilesProcessed int           `json:"files_processed"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesFailed    int           `json:"files_failed"`
	Deduplicated   int           `json:"deduplicated"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration_ms"`
}

// ImportProgress carries live progress data for a running job.
type ImportProgress struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"` // "running" | "complete" | "failed"
	FilesFound     int    `json:"files_found"`
	FilesProcessed int    `json:"files_processed"`
	CurrentFile    string `json:"current_file,omitempty"`
	Message        string `json:"message,omitempty"`
}

// importJob tracks the state of one async import operation.
type importJob struct {
	mu       sync.RWMutex
	progress ImportProgress
	result   *ImportResult
	done     chan struct{}
}

func newImportJob(jobID string) *importJob {
	return &importJob{
		progress: ImportProgress{JobID: jobID, Status: "running"},
		done:     make(chan struct{}),
	}
}

func (j *importJob) snapshot() ImportProgress {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// DirectoryImporter walks a note directory and submits every note to the
// engine as an interaction.
type DirectoryImporter struct {
	evolver Evolver

	// mu protects jobs.
	mu   sync.RWMutex
	jobs map[string]*importJob
}

// NewDirectoryImporter creates an importer feeding the given engine.
func NewDirectoryImporter(evolver Evolver) *DirectoryImporter {
	return &DirectoryImporter{
		evolver: evolver,
		jobs:    make(map[string]*importJob),
	}
}

// StartImport begins an asynchronous import of the directory at dirPath.
// It returns a job ID usable with GetJobProgress / GetJobResult.
func (imp *DirectoryImporter) StartImport(ctx context.Context, dirPath string) (string, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		return "", fmt.Errorf("cannot access directory %q: %w", dirPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%q is not a directory", dirPath)
	}

	jobID := uuid.NewString()
	job := newImportJob(jobID)

	imp.mu.Lock()
	imp.jobs[jobID] = job
	imp.mu.Unlock()

	go func() {
		result := imp.runImport(ctx, job, dirPath)
		job.mu.Lock()
		job.result = result
		if len(result.Errors) > 0 && result.FilesProcessed == 0 {
			job.progress.Status = "failed"
			job.progress.Message = "Import failed"
		} else {
			job.progress.Status = "complete"
			job.progress.Message = fmt.Sprintf("Imported %d of %d files",
				result.FilesProcessed, result.FilesFound)
		}
		job.mu.Unlock()
		close(job.done)
	}()

	return jobID, nil
}

// GetJobProgress returns the live progress for a job, or false if unknown.
func (imp *DirectoryImporter) GetJobProgress(jobID string) (ImportProgress, bool) {
	imp.mu.RLock()
	job, ok := imp.jobs[jobID]
	imp.mu.RUnlock()
	if !ok {
		return ImportProgress{}, false
	}
	return job.snapshot(), true
}

// GetJobResult returns the final result for a completed job, or nil while the
// job is still running or when the ID is unknown.
func (imp *DirectoryImporter) GetJobResult(jobID string) *ImportResult {
	imp.mu.RLock()
	job, ok := imp.jobs[jobID]
	imp.mu.RUnlock()
	if !ok {
		return nil
	}
	job.mu.RLock()
	defer job.mu.RUnlock()
	return job.result
}

// Wait blocks until the job completes or ctx is done. Test helper and
// shutdown aid.
func (imp *DirectoryImporter) Wait(ctx context.Context, jobID string) error {
	imp.mu.RLock()
	job, ok := imp.jobs[jobID]
	imp.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", jobID)
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runImport is the synchronous import logic executed in a goroutine.
func (imp *DirectoryImporter) runImport(ctx context.Context, job *importJob, dirPath string) *ImportResult {
	start := time.Now()
	result := &ImportResult{JobID: job.progress.JobID}

	files, err := collectNoteFiles(dirPath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("walk error: %v", err))
		return result
	}

	result.FilesFound = len(files)
	job.mu.Lock()
	job.progress.FilesFound = len(files)
	job.mu.Unlock()

	for i, absPath := range files {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, "context cancelled")
			break
		}

		rel, _ := filepath.Rel(dirPath, absPath)

		job.mu.Lock()
		job.progress.FilesProcessed = i
		job.progress.CurrentFile = rel
		job.mu.Unlock()

		evolved, err := imp.importFile(ctx, absPath, rel)
		switch {
		case err == errEmptyFile:
			result.FilesSkipped++
		case err != nil:
			log.Printf("import: %s: %v", rel, err)
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, err))
		case evolved.Deduplicated:
			result.Deduplicated++
			result.FilesProcessed++
		default:
			result.FilesProcessed++
		}
	}

	job.mu.Lock()
	job.progress.FilesProcessed = result.FilesProcessed
	job.progress.CurrentFile = ""
	job.mu.Unlock()

	result.Duration = time.Since(start)
	return result
}

var errEmptyFile = fmt.Errorf("empty file")

// importFile reads, parses and submits one note.
func (imp *DirectoryImporter) importFile(ctx context.Context, absPath, rel string) (*types.EvolutionResult, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyFile
	}

	note, err := ParseNote(data, absPath, rel)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	result, err := imp.evolver.Evolve(ctx, engineRequest(note))
	if err != nil {
		return nil, fmt.Errorf("evolve error: %w", err)
	}
	return result, nil
}

// engineRequest maps a parsed note onto an engine submission.
func engineRequest(note *Note) engine.EvolveRequest {
	return engine.EvolveRequest{
		Content:    note.Content,
		Source:     types.SourceDocument,
		OccurredAt: note.OccurredAt,
		Metadata:   note.Metadata(),
	}
}

// collectNoteFiles walks dirPath and returns all .md / .markdown files.
// Hidden directories (.git, .obsidian, .trash) are skipped.
func collectNoteFiles(dirPath string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dirPath {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == ".md" || ext == ".markdown" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
