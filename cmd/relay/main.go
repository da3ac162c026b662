package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"worryrelay/internal/persistence/indexdb"
	persistlog "worryrelay/internal/persistence/log"
	"worryrelay/internal/sim/runner"
	"worryrelay/internal/sim/tuning"
	"worryrelay/internal/transport/observer"
)

func main() { os.Exit(run()) }

func run() int {
	var (
		configPath = flag.String("config", "./configs/relay.yaml", "run config (.yaml) or puzzle notes file")
		preset     = flag.String("preset", "", "override relief and rounds: boredom | anxious")
		rounds     = flag.Uint64("rounds", 0, "rounds to run (default: from config)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite run index")
		disableLog = flag.Bool("disable_log", false, "disable the compressed round log")
		observe    = flag.String("observe", "", "observer http listen address (empty to disable)")
		pace       = flag.Duration("pace", 0, "wall-clock delay between rounds (for live observers)")
		progress   = flag.Uint64("progress_every", 1000, "log progress every N rounds (0 disables)")
		listRuns   = flag.Int("list_runs", 0, "print the N most recent indexed runs and exit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[relay] ", log.LstdFlags|log.Lmicroseconds)
	indexPath := filepath.Join(*dataDir, "index.db")

	if *listRuns > 0 {
		if err := printRecentRuns(indexPath, *listRuns); err != nil {
			fmt.Fprintln(os.Stderr, "list runs:", err)
			return 1
		}
		return 0
	}

	cfg, err := tuning.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}
	if err := cfg.ApplyPreset(*preset); err != nil {
		fmt.Fprintln(os.Stderr, "preset:", err)
		return 2
	}
	if *rounds > 0 {
		cfg.Rounds = *rounds
	}

	sim, err := cfg.NewSimulation()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build simulation:", err)
		return 1
	}

	runID := uuid.NewString()
	runDir := filepath.Join(*dataDir, "runs", runID)

	var sinks []runner.Sink
	if !*disableLog {
		rl := persistlog.NewRoundLogger(runDir)
		defer func() {
			if err := rl.Close(); err != nil {
				logger.Printf("round log: close: %v", err)
			}
		}()
		sinks = append(sinks, rl)
	}
	if !*disableDB {
		idx, err := indexdb.OpenSQLite(indexPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			return 1
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	if addr := strings.TrimSpace(*observe); addr != "" {
		obs := observer.NewServer(log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
		srv := &http.Server{Addr: addr, Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("observer: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Printf("observer listening on %s", addr)
		sinks = append(sinks, obs)
	}
	r := runner.New(runner.Config{
		RunID:         runID,
		Source:        *configPath,
		Pace:          *pace,
		ProgressEvery: *progress,
		Sinks:         sinks,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, runErr := r.Run(ctx, sim, cfg.Rounds)

	fmt.Printf("run %s: %s rounds, relief %s\n", sum.RunID, humanize.Comma(int64(sum.Rounds)), sim.Relief())
	for i, n := range sum.Inspections {
		fmt.Printf("  agent %d inspected items %s times\n", i, humanize.Comma(int64(n)))
	}
	if sum.ScoreErr != "" {
		fmt.Printf("business score: unavailable (%s)\n", sum.ScoreErr)
	} else {
		fmt.Printf("business score: %d\n", sum.Score)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "run interrupted:", runErr)
		return 1
	}
	return 0
}

func printRecentRuns(path string, limit int) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	runs, err := idx.RecentRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		started, _ := time.Parse(time.RFC3339Nano, run.StartedAt)
		fmt.Printf("%s  %-24s agents=%d rounds=%s score=%d  %s\n",
			run.RunID, run.Relief, run.Agents, humanize.Comma(int64(run.Rounds)), run.Score, humanize.Time(started))
	}
	return nil
}
