package snapshot

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "chronicle.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO notes (body) VALUES ('first')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return path
}

func countNotes(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestTakeNowVerifiesAndLists(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir)

	s, err := New(Config{DBPath: dbPath, Dir: filepath.Join(dir, "snaps"), Verify: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := s.TakeNow(context.Background())
	if err != nil {
		t.Fatalf("TakeNow: %v", err)
	}
	if !res.Verified {
		t.Error("expected snapshot to be verified")
	}
	if res.Size == 0 {
		t.Error("expected non-empty snapshot file")
	}
	if got := countNotes(t, res.Path); got != 1 {
		t.Errorf("snapshot has %d notes, want 1", got)
	}
	if s.LastTaken().IsZero() {
		t.Error("LastTaken not recorded")
	}

	snaps, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Path != res.Path {
		t.Errorf("List = %+v, want the one snapshot at %s", snaps, res.Path)
	}
}

func TestTakeNowMissingDatabase(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{DBPath: filepath.Join(dir, "absent.db"), Dir: filepath.Join(dir, "snaps")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.TakeNow(context.Background()); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestRestoreRollsDatabaseBack(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir)

	s, err := New(Config{DBPath: dbPath, Dir: filepath.Join(dir, "snaps"), Verify: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := s.TakeNow(context.Background())
	if err != nil {
		t.Fatalf("TakeNow: %v", err)
	}

	// Mutate the live database after the snapshot.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO notes (body) VALUES ('second')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()
	if got := countNotes(t, dbPath); got != 2 {
		t.Fatalf("precondition: live db has %d notes, want 2", got)
	}

	if err := s.Restore(context.Background(), res.Path); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := countNotes(t, dbPath); got != 1 {
		t.Errorf("restored db has %d notes, want 1", got)
	}
	if _, err := os.Stat(dbPath + ".pre-restore"); !os.IsNotExist(err) {
		t.Error("pre-restore copy should be removed after a successful restore")
	}
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	dbPath := newTestDB(t, dir)

	s, err := New(Config{DBPath: dbPath, Dir: filepath.Join(dir, "snaps")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bogus := filepath.Join(dir, "snaps", "chronicle-bogus.db")
	if err := os.WriteFile(bogus, []byte("not a database"), 0o644); err != nil {
		t.Fatalf("write bogus snapshot: %v", err)
	}
	if err := s.Restore(context.Background(), bogus); err == nil {
		t.Fatal("expected corrupt snapshot to be rejected")
	}
	if got := countNotes(t, dbPath); got != 1 {
		t.Errorf("live db disturbed by failed restore: %d notes, want 1", got)
	}
}

// placeSnapshot fabricates a snapshot file whose mod time puts it at the
// given age.
func placeSnapshot(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	when := time.Now().Add(-age)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestPruneKeepsNewestPerTier(t *testing.T) {
	dir := t.TempDir()
	snapDir := filepath.Join(dir, "snaps")
	dbPath := newTestDB(t, dir)

	s, err := New(Config{
		DBPath: dbPath,
		Dir:    snapDir,
		Keep:   KeepPolicy{Day: 2, Week: 1, Month: 1, Year: 1},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	keepA := placeSnapshot(t, snapDir, "a.db", 1*time.Hour)
	keepB := placeSnapshot(t, snapDir, "b.db", 2*time.Hour)
	dropC := placeSnapshot(t, snapDir, "c.db", 3*time.Hour) // third in the day tier
	keepD := placeSnapshot(t, snapDir, "d.db", 2*24*time.Hour)
	dropE := placeSnapshot(t, snapDir, "e.db", 3*24*time.Hour)   // second in the week tier
	dropF := placeSnapshot(t, snapDir, "f.db", 400*24*time.Hour) // older than a year

	if err := s.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	for _, p := range []string{keepA, keepB, keepD} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to survive pruning: %v", filepath.Base(p), err)
		}
	}
	for _, p := range []string{dropC, dropE, dropF} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be pruned", filepath.Base(p))
		}
	}
}

func TestListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	snapDir := filepath.Join(dir, "snaps")
	dbPath := newTestDB(t, dir)

	s, err := New(Config{DBPath: dbPath, Dir: snapDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	placeSnapshot(t, snapDir, "real.db", time.Hour)
	if err := os.WriteFile(filepath.Join(snapDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(snapDir, "sub.db"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	snaps, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 1 || filepath.Base(snaps[0].Path) != "real.db" {
		t.Errorf("List = %+v, want only real.db", snaps)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Dir: t.TempDir()}); err == nil {
		t.Error("expected error for missing DBPath")
	}
	if _, err := New(Config{DBPath: "x.db"}); err == nil {
		t.Error("expected error for missing Dir")
	}
}
