package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/voicepath"
)

// overrideStore is the subset of [voicepath.PostgresOverrides] used by the
// overrides subcommands.
type overrideStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Upsert(ctx context.Context, hexID, folder string) error
	Delete(ctx context.Context, hexID string) (bool, error)
}

var _ overrideStore = (*voicepath.PostgresOverrides)(nil)

const overridesUsage = `usage: voicebank overrides <command> [flags]

commands:
  list                         print all stored overrides
  set -actor ID -folder NAME   store or replace an override
  delete -actor ID             remove an override
`

// runOverrides implements "voicebank overrides ...". It connects to the
// database named by voices.overrides_dsn (or -dsn).
func runOverrides(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, overridesUsage)
		return 2
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet("overrides "+cmd, flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (defaults to voices.overrides_dsn)")
	actor := fs.String("actor", "", "actor hex form ID")
	folder := fs.String("folder", "", "voice folder name")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	if *dsn == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voicebank: %v\n", err)
			return 1
		}
		*dsn = cfg.Voices.OverridesDSN
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "voicebank: no overrides database configured (set voices.overrides_dsn or -dsn)")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := voicepath.Connect(ctx, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicebank: %v\n", err)
		return 1
	}
	defer pool.Close()

	store := voicepath.NewPostgresOverrides(pool)
	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "voicebank: %v\n", err)
		return 1
	}

	if err := overridesCommand(ctx, os.Stdout, store, cmd, *actor, *folder); err != nil {
		fmt.Fprintf(os.Stderr, "voicebank: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, overridesUsage)
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("invalid usage")

func overridesCommand(ctx context.Context, w io.Writer, store overrideStore, cmd, actor, folder string) error {
	switch cmd {
	case "list":
		overrides, err := store.Load(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ACTOR\tFOLDER")
		for _, id := range slices.Sorted(maps.Keys(overrides)) {
			fmt.Fprintf(tw, "%s\t%s\n", id, overrides[id])
		}
		return tw.Flush()

	case "set":
		if actor == "" || folder == "" {
			return fmt.Errorf("%w: set requires -actor and -folder", errUsage)
		}
		if err := store.Upsert(ctx, actor, folder); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s -> %s\n", actor, folder)
		return nil

	case "delete":
		if actor == "" {
			return fmt.Errorf("%w: delete requires -actor", errUsage)
		}
		deleted, err := store.Delete(ctx, actor)
		if err != nil {
			return err
		}
		if !deleted {
			fmt.Fprintf(w, "no override for %s\n", actor)
			return nil
		}
		fmt.Fprintf(w, "deleted %s\n", actor)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}
