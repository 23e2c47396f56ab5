// Command fuzzer drives pkg/fuzz against a fresh in-memory tree and, on
// divergence from the reference model, writes the full instruction log
// to disk so the failure can be replayed and debugged offline.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"golang.org/x/exp/rand"

	"nestdb/internal/xlog"
	"nestdb/pkg/btree"
	"nestdb/pkg/fuzz"
	"nestdb/pkg/storage"
)

func main() {
	seed := flag.Uint64("seed", 1, "PRNG seed")
	iterations := flag.Int("iterations", 1_000_000, "maximum instructions to run before giving up")
	out := flag.String("out", "instructions.gob", "where to write the instruction log on divergence")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log := xlog.New(os.Stderr, xlog.ParseLevel(*logLevel))

	db, err := storage.Initialize(storage.NewMemDisk(), storage.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("initialize database")
	}
	tree, err := btree.Init(db)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize tree")
	}

	rng := rand.New(rand.NewSource(*seed))
	logEntries, divergedAt, err := fuzz.Run(tree, rng, *iterations)
	if err != nil {
		log.Fatal().Err(err).Msg("fuzz run aborted with an error")
	}

	if divergedAt < 0 {
		log.Info().Int("iterations", len(logEntries)).Msg("no divergence found")
		return
	}

	log.Warn().
		Int("diverged_at", divergedAt).
		Int("total_instructions", len(logEntries)).
		Msg("reference model diverged from tree")

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("create replay log")
	}
	defer f.Close()
	if err := fuzz.WriteReplayLog(f, logEntries); err != nil {
		log.Fatal().Err(err).Msg("write replay log")
	}
	fmt.Fprintf(os.Stderr, "wrote %d instructions to %s\n", len(logEntries), *out)
	os.Exit(1)
}
