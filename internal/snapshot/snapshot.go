// Package snapshot takes consistent point-in-time copies of the Chronicle
// SQLite database, verifies them, and prunes old copies by age tier.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// KeepPolicy says how many snapshots survive pruning in each age tier.
// Tiers by snapshot age: under a day, under a week, under a month, under a
// year. Anything older than a year is always pruned.
type KeepPolicy struct {
	Day   int // snapshots less than 24h old (default 24)
	Week  int // 1-7 days old (default 7)
	Month int // 7-30 days old (default 4)
	Year  int // 30-365 days old (default 12)
}

// Config configures a Snapshotter.
type Config struct {
	DBPath   string        // path to the live chronicle.db
	Dir      string        // where snapshots are written
	Interval time.Duration // schedule period for Run (default 1h)
	Keep     KeepPolicy
	Verify   bool // run integrity_check on every new snapshot
}

// Info describes one snapshot file on disk.
type Info struct {
	Path    string
	TakenAt time.Time
	Size    int64
}

// Result describes a completed snapshot.
type Result struct {
	Path     string
	Size     int64
	Duration time.Duration
	Verified bool
}

// Snapshotter takes and manages database snapshots.
type Snapshotter struct {
	cfg Config

	mu       sync.Mutex
	lastTake time.Time
}

// New validates cfg, fills defaults, and creates the snapshot directory.
func New(cfg Config) (*Snapshotter, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("snapshot: database path is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("snapshot: snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Keep.Day == 0 {
		cfg.Keep.Day = 24
	}
	if cfg.Keep.Week == 0 {
		cfg.Keep.Week = 7
	}
	if cfg.Keep.Month == 0 {
		cfg.Keep.Month = 4
	}
	if cfg.Keep.Year == 0 {
		cfg.Keep.Year = 12
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create directory: %w", err)
	}
	return &Snapshotter{cfg: cfg}, nil
}

// Run takes a snapshot every Interval until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("Snapshot schedule started: every %v into %s", s.cfg.Interval, s.cfg.Dir)
	for {
		select {
		case <-ctx.Done():
			log.Println("Snapshot schedule stopped")
			return ctx.Err()
		case <-ticker.C:
			res, err := s.TakeNow(ctx)
			if err != nil {
				log.Printf("Scheduled snapshot failed: %v", err)
				continue
			}
			log.Printf("Snapshot written: %s (%d bytes in %v)", res.Path, res.Size, res.Duration)
		}
	}
}

// TakeNow copies the database to a timestamped file in the snapshot
// directory, verifies it when configured, and prunes old snapshots.
func (s *Snapshotter) TakeNow(ctx context.Context) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("snapshot: database not found: %w", err)
	}

	name := fmt.Sprintf("chronicle-%s.db", start.UTC().Format("20060102-150405.000000"))
	dest := filepath.Join(s.cfg.Dir, name)

	if err := copyDatabase(ctx, s.cfg.DBPath, dest); err != nil {
		return nil, err
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("snapshot: stat %s: %w", dest, err)
	}
	res := &Result{Path: dest, Size: fi.Size(), Duration: time.Since(start)}

	if s.cfg.Verify {
		if err := verify(ctx, dest); err != nil {
			return nil, err
		}
		res.Verified = true
	}

	s.mu.Lock()
	s.lastTake = time.Now()
	s.mu.Unlock()

	if err := s.Prune(); err != nil {
		// A full snapshot beats a tidy directory.
		log.Printf("Snapshot pruning failed: %v", err)
	}
	return res, nil
}

// List returns all snapshots in the directory, newest first.
func (s *Snapshotter) List() ([]Info, error) {
	return listDir(s.cfg.Dir)
}

// LastTaken reports when this process last completed a snapshot.
func (s *Snapshotter) LastTaken() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTake
}

// Restore replaces the live database with the given snapshot. The snapshot
// is verified first, and the current database is kept aside until the copy
// succeeds so a failed restore can roll back. The daemon must not be running.
func (s *Snapshotter) Restore(ctx context.Context, snapPath string) error {
	if _, err := os.Stat(snapPath); err != nil {
		return fmt.Errorf("snapshot: not found: %w", err)
	}
	if err := verify(ctx, snapPath); err != nil {
		return err
	}

	keep := s.cfg.DBPath + ".pre-restore"
	hadLive := false
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		hadLive = true
		if err := copyDatabase(ctx, s.cfg.DBPath, keep); err != nil {
			return fmt.Errorf("snapshot: saving current database: %w", err)
		}
	}

	if err := copyFile(snapPath, s.cfg.DBPath); err != nil {
		if hadLive {
			if rbErr := copyFile(keep, s.cfg.DBPath); rbErr != nil {
				return fmt.Errorf("snapshot: restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("snapshot: restore failed, previous database kept: %w", err)
		}
		return err
	}
	if err := verify(ctx, s.cfg.DBPath); err != nil {
		return fmt.Errorf("snapshot: restored database failed verification: %w", err)
	}
	if hadLive {
		os.Remove(keep)
	}
	log.Printf("Database restored from %s", snapPath)
	return nil
}

// Prune deletes snapshots beyond the keep policy for their age tier.
func (s *Snapshotter) Prune() error {
	snaps, err := listDir(s.cfg.Dir)
	if err != nil {
		return err
	}
	now := time.Now()

	// tierKeep[i] is the keep count for tier i; tier 4 is "older than a
	// year" and always empties.
	tierKeep := []int{s.cfg.Keep.Day, s.cfg.Keep.Week, s.cfg.Keep.Month, s.cfg.Keep.Year, 0}
	var tiers [5][]Info
	for _, sn := range snaps {
		t := ageTier(now.Sub(sn.TakenAt))
		tiers[t] = append(tiers[t], sn)
	}

	var firstErr error
	for t, members := range tiers {
		if len(members) <= tierKeep[t] {
			continue
		}
		// listDir sorts newest first, so the excess is the oldest.
		for _, sn := range members[tierKeep[t]:] {
			if err := os.Remove(sn.Path); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("snapshot: pruning: %w", firstErr)
	}
	return nil
}

func ageTier(age time.Duration) int {
	switch {
	case age < 24*time.Hour:
		return 0
	case age < 7*24*time.Hour:
		return 1
	case age < 30*24*time.Hour:
		return 2
	case age < 365*24*time.Hour:
		return 3
	default:
		return 4
	}
}

func listDir(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read directory: %w", err)
	}
	var snaps []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Info{
			Path:    filepath.Join(dir, e.Name()),
			TakenAt: fi.ModTime(),
			Size:    fi.Size(),
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].TakenAt.After(snaps[j].TakenAt) })
	return snaps, nil
}

// copyDatabase produces a consistent copy via VACUUM INTO, which is safe
// against a live writer even in WAL mode.
func copyDatabase(ctx context.Context, source, dest string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", source))
	if err != nil {
		return fmt.Errorf("snapshot: open source: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("snapshot: source unreachable: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return fmt.Errorf("snapshot: vacuum into %s: %w", dest, err)
	}
	return nil
}

func verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("snapshot: integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("snapshot: integrity check on %s: %s", path, result)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
