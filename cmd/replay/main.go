package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "worryrelay/internal/persistence/log"
	"worryrelay/internal/sim/relay"
	"worryrelay/internal/sim/runner"
	"worryrelay/internal/sim/tuning"
)

var errStop = errors.New("stop")

func main() {
	var (
		configPath = flag.String("config", "", "run config (.yaml) or notes file the run was started from")
		runDir     = flag.String("run", "", "run directory containing run.json and rounds/")
		preset     = flag.String("preset", "", "preset the run was started with (optional)")
		toRound    = flag.Uint64("to_round", 0, "stop after this round (inclusive, optional)")
	)
	flag.Parse()

	if *configPath == "" || *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -config or -run")
		os.Exit(2)
	}

	cfg, err := tuning.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if err := cfg.ApplyPreset(*preset); err != nil {
		fmt.Fprintln(os.Stderr, "preset:", err)
		os.Exit(2)
	}
	sim, err := cfg.NewSimulation()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build simulation:", err)
		os.Exit(1)
	}

	if info, err := readRunInfo(filepath.Join(*runDir, "run.json")); err == nil {
		fmt.Printf("run %s agents=%d relief=%s rounds_requested=%d\n", info.RunID, info.Agents, info.Relief, info.RoundsRequested)
		if info.Agents != sim.AgentCount() || info.Relief != sim.Relief().String() {
			fmt.Fprintf(os.Stderr, "config mismatch: run has agents=%d relief=%s, config gives agents=%d relief=%s\n",
				info.Agents, info.Relief, sim.AgentCount(), sim.Relief())
			os.Exit(1)
		}
		sim.Run(info.StartRound)
	}

	files, err := persistlog.ListRoundFiles(filepath.Join(*runDir, "rounds"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list rounds:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no round files found in", *runDir)
		os.Exit(1)
	}

	var checked uint64
	for _, path := range files {
		err := persistlog.ReadRounds(path, func(e runner.RoundLogEntry) error {
			return verifyRound(sim, e, *toRound, &checked)
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d rounds counts=%v\n", checked, sim.InspectionCounts())
}

func verifyRound(sim *relay.Simulation, e runner.RoundLogEntry, toRound uint64, checked *uint64) error {
	if toRound != 0 && e.Round > toRound {
		return errStop
	}
	if want := sim.RoundsCompleted() + 1; e.Round != want {
		return fmt.Errorf("round mismatch: want=%d got=%d", want, e.Round)
	}
	sim.RunRound()
	if got := sim.Digest(); got != e.Digest {
		return fmt.Errorf("digest mismatch at round %d: got=%s want=%s", e.Round, got, e.Digest)
	}
	*checked++
	return nil
}

func readRunInfo(path string) (runner.RunInfo, error) {
	var info runner.RunInfo
	b, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(b, &info)
	return info, err
}
