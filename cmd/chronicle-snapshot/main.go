// Command chronicle-snapshot takes, lists, restores and schedules snapshots
// of the Chronicle database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/chronicle/internal/config"
	"github.com/scrypster/chronicle/internal/snapshot"
)

var (
	dbPath   = flag.String("db", "", "Path to the database file (default: <data path>/chronicle.db)")
	snapDir  = flag.String("dir", "", "Snapshot directory (default: <data path>/snapshots)")
	interval = flag.Duration("interval", time.Hour, "Schedule period when running continuously")
	verify   = flag.Bool("verify", true, "Run an integrity check on every new snapshot")
	once     = flag.Bool("once", false, "Take a single snapshot and exit")
	restore  = flag.String("restore", "", "Restore the database from the given snapshot and exit")
	list     = flag.Bool("list", false, "List snapshots and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db := *dbPath
	if db == "" {
		db = filepath.Join(cfg.Storage.DataPath, "chronicle.db")
	}
	dir := *snapDir
	if dir == "" {
		dir = filepath.Join(cfg.Storage.DataPath, "snapshots")
	}

	snapper, err := snapshot.New(snapshot.Config{
		DBPath:   db,
		Dir:      dir,
		Interval: *interval,
		Verify:   *verify,
	})
	if err != nil {
		log.Fatalf("Failed to set up snapshots: %v", err)
	}

	ctx := context.Background()

	switch {
	case *restore != "":
		if err := snapper.Restore(ctx, *restore); err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		log.Println("Database restored")
	case *list:
		listSnapshots(snapper)
	case *once:
		res, err := snapper.TakeNow(ctx)
		if err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		log.Printf("Snapshot written: %s (%.2f MB in %v, verified=%v)",
			res.Path, float64(res.Size)/(1024*1024), res.Duration, res.Verified)
	default:
		runSchedule(snapper)
	}
}

func listSnapshots(snapper *snapshot.Snapshotter) {
	snaps, err := snapper.List()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}
	if len(snaps) == 0 {
		fmt.Println("No snapshots found")
		return
	}
	fmt.Printf("Found %d snapshot(s):\n\n", len(snaps))
	for i, sn := range snaps {
		fmt.Printf("%d. %s\n", i+1, sn.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(sn.Size)/(1024*1024))
		fmt.Printf("   Taken: %s (%s ago)\n\n",
			sn.TakenAt.Format(time.RFC3339), time.Since(sn.TakenAt).Round(time.Minute))
	}
}

func runSchedule(snapper *snapshot.Snapshotter) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := snapper.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Snapshot schedule error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("Stopping snapshot schedule...")
	cancel()
}
