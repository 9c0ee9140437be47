// Package task tracks background tasks spawned by devflow commands. Records
// live in their own pair of JSON documents, separate from the general state
// document, so frequent status polling does not contend with state access.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"devflow/internal/lock"
)

// Status is the lifecycle state of a background task. Transitions are
// one-directional: pending -> running -> completed|failed. Overwriting one
// terminal status with another is allowed (last write wins, the self-reporting
// child is the only terminal writer in practice); moving back to pending or
// running is not.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is one background task.
type Record struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Command     []string   `json:"command"`
	Status      Status     `json:"status"`
	PID         int        `json:"pid,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	LogFile     string     `json:"log_file"`
	OutputFile  string     `json:"output_file,omitempty"`
}

// Finished reports whether the record reached a terminal status.
func (r *Record) Finished() bool { return r.Status.Terminal() }

// UnknownTaskError reports a lookup or update against a task ID that does not
// exist in the registry.
type UnknownTaskError struct {
	ID string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", e.ID)
}

// InvalidStatusError reports a rejected lifecycle transition.
type InvalidStatusError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("task %s: invalid status transition %s -> %s", e.ID, e.From, e.To)
}

const (
	recentFile  = "tasks.json"
	historyFile = "tasks_history.json"
	taskLock    = "tasks.json.lock"
	logsDir     = "logs"
)

// Registry persists task records under a state directory. The recent
// document is the pruned working view; the history document keeps every task
// ever spawned and is never pruned. One lock file guards both, so a single
// update writes them consistently.
type Registry struct {
	dir         string
	recentPath  string
	historyPath string
	lockPath    string
	lockTimeout time.Duration
}

// NewRegistry returns a registry rooted at dir.
func NewRegistry(dir string, lockTimeout time.Duration) *Registry {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Registry{
		dir:         dir,
		recentPath:  filepath.Join(dir, recentFile),
		historyPath: filepath.Join(dir, historyFile),
		lockPath:    filepath.Join(dir, taskLock),
		lockTimeout: lockTimeout,
	}
}

// LogDir returns the directory holding per-task log files.
func (r *Registry) LogDir() string { return filepath.Join(r.dir, logsDir) }

// LogPath returns the log file path for a task ID.
func (r *Registry) LogPath(id string) string {
	return filepath.Join(r.LogDir(), id+".log")
}

// Create allocates a fresh task ID and writes the initial pending record.
// StartedAt is the spawn time; the runner records it here so pending tasks
// sort correctly in List even if the child never reaches running.
func (r *Registry) Create(ctx context.Context, name string, command []string, outputFile string) (*Record, error) {
	rec := &Record{
		ID:         uuid.NewString(),
		Name:       name,
		Command:    command,
		Status:     StatusPending,
		StartedAt:  time.Now().UTC(),
		OutputFile: outputFile,
	}
	rec.LogFile = r.LogPath(rec.ID)

	err := r.update(ctx, func(recent, history map[string]*Record) error {
		recent[rec.ID] = rec
		history[rec.ID] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the record for id, consulting the recent view first and
// falling back to the unpruned history.
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	var found *Record
	err := r.withRead(ctx, func(recent, history map[string]*Record) error {
		if rec, ok := recent[id]; ok {
			found = rec
			return nil
		}
		if rec, ok := history[id]; ok {
			found = rec
			return nil
		}
		return &UnknownTaskError{ID: id}
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// MarkRunning transitions a record to running. The child process calls this
// as its first act; the record stays pending if the child dies before then.
func (r *Registry) MarkRunning(ctx context.Context, id string) error {
	return r.mutateRecord(ctx, id, func(rec *Record) error {
		if rec.Status.Terminal() {
			return &InvalidStatusError{ID: id, From: rec.Status, To: StatusRunning}
		}
		rec.Status = StatusRunning
		return nil
	})
}

// MarkFinished records a terminal status with its exit code. A record that is
// already terminal is overwritten (last write wins); a move back from
// terminal to running or pending is rejected by the other mark methods.
func (r *Registry) MarkFinished(ctx context.Context, id string, status Status, exitCode int) error {
	if !status.Terminal() {
		return fmt.Errorf("task %s: %q is not a terminal status", id, status)
	}
	return r.mutateRecord(ctx, id, func(rec *Record) error {
		now := time.Now().UTC()
		rec.Status = status
		rec.CompletedAt = &now
		rec.ExitCode = &exitCode
		return nil
	})
}

// SetPID records the detached child's process ID for observability. The core
// never signals the pid; it only powers the staleness probe.
func (r *Registry) SetPID(ctx context.Context, id string, pid int) error {
	return r.mutateRecord(ctx, id, func(rec *Record) error {
		rec.PID = pid
		return nil
	})
}

// List returns the recent view: unfinished tasks first ordered by start time,
// then finished tasks ordered by completion time. Whatever is still running
// shows before whatever is done.
func (r *Registry) List(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	err := r.withRead(ctx, func(recent, history map[string]*Record) error {
		for _, rec := range recent {
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(recs)
	return recs, nil
}

// History returns every task ever recorded, in the same order as List.
func (r *Registry) History(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	err := r.withRead(ctx, func(recent, history map[string]*Record) error {
		for _, rec := range history {
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(recs)
	return recs, nil
}

// CleanExpired removes finished records older than age from the recent view.
// The history document is never pruned. Returns how many records were removed.
func (r *Registry) CleanExpired(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	removed := 0
	err := r.update(ctx, func(recent, history map[string]*Record) error {
		for id, rec := range recent {
			if rec.Finished() && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
				delete(recent, id)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func sortRecords(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Finished() != b.Finished() {
			return !a.Finished()
		}
		if !a.Finished() {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.CompletedAt.Before(*b.CompletedAt)
	})
}

func (r *Registry) mutateRecord(ctx context.Context, id string, fn func(*Record) error) error {
	return r.update(ctx, func(recent, history map[string]*Record) error {
		rec, ok := recent[id]
		if !ok {
			rec, ok = history[id]
		}
		if !ok {
			return &UnknownTaskError{ID: id}
		}
		if err := fn(rec); err != nil {
			return err
		}
		// Keep both views pointing at the updated record. A record pruned
		// from the recent view stays history-only.
		if _, inRecent := recent[id]; inRecent {
			recent[id] = rec
		}
		history[id] = rec
		return nil
	})
}

// update runs fn against both documents and persists them under a single
// exclusive lock hold.
func (r *Registry) update(ctx context.Context, fn func(recent, history map[string]*Record) error) error {
	g, err := r.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = g.Release() }()

	recent, err := readTaskDoc(r.recentPath)
	if err != nil {
		return err
	}
	history, err := readTaskDoc(r.historyPath)
	if err != nil {
		return err
	}
	if err := fn(recent, history); err != nil {
		return err
	}
	if err := writeTaskDoc(r.recentPath, recent); err != nil {
		return err
	}
	return writeTaskDoc(r.historyPath, history)
}

func (r *Registry) withRead(ctx context.Context, fn func(recent, history map[string]*Record) error) error {
	g, err := r.acquire(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = g.Release() }()

	recent, err := readTaskDoc(r.recentPath)
	if err != nil {
		return err
	}
	history, err := readTaskDoc(r.historyPath)
	if err != nil {
		return err
	}
	return fn(recent, history)
}

func (r *Registry) acquire(ctx context.Context, exclusive bool) (*lock.Guard, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, err
	}
	return lock.Acquire(ctx, r.lockPath, exclusive, r.lockTimeout)
}

func readTaskDoc(path string) (map[string]*Record, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]*Record{}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("task document %s is corrupt: %w", path, err)
	}
	return doc, nil
}

func writeTaskDoc(path string, doc map[string]*Record) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}
