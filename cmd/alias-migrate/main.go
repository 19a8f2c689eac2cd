// Command alias-migrate loads legacy id to hash mappings into the alias table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-yaml"

	"github.com/mohammed-shakir/geostore/internal/canonical"
	"github.com/mohammed-shakir/geostore/internal/core/config"
	"github.com/mohammed-shakir/geostore/internal/core/model"
	"github.com/mohammed-shakir/geostore/internal/logger"
	"github.com/mohammed-shakir/geostore/internal/store"
	"github.com/mohammed-shakir/geostore/internal/store/backend"
)

type aliasFile struct {
	Aliases []model.AliasEntry `yaml:"aliases"`
}

func main() {
	os.Exit(run())
}

func run() int {
	file := flag.String("file", "aliases.yaml", "YAML file with an aliases list of {oldId, hash}")
	envFile := flag.String("env", ".env", "dotenv file to load when present")
	dryRun := flag.Bool("dry-run", false, "validate the file without writing")
	flag.Parse()

	cfg := config.Load(*envFile)
	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole, Env: cfg.AppEnv, Component: "alias-migrate"}, os.Stderr)
	log := logger.NewSlog(&zl)

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Error("read alias file", "file", *file, "err", err)
		return 1
	}
	entries, err := parse(data)
	if err != nil {
		log.Error("parse alias file", "file", *file, "err", err)
		return 1
	}
	if *dryRun {
		log.Info("alias file is valid", "entries", len(entries))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Error("open store", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	defer func() { _ = b.Close() }()

	n, err := migrate(ctx, b, entries, log)
	if err != nil {
		log.Error("migration stopped", "written", n, "err", err)
		return 1
	}
	log.Info("aliases migrated", "written", n)
	return 0
}

// parse validates every entry before anything is written.
func parse(data []byte) ([]model.AliasEntry, error) {
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	seen := make(map[string]string, len(f.Aliases))
	out := make([]model.AliasEntry, 0, len(f.Aliases))
	for i, e := range f.Aliases {
		e.OldID = strings.TrimSpace(e.OldID)
		e.Hash = strings.ToLower(strings.TrimSpace(e.Hash))
		switch {
		case e.OldID == "":
			return nil, fmt.Errorf("entry %d: oldId is empty", i)
		case !canonical.ValidHash(e.Hash):
			return nil, fmt.Errorf("entry %d (%s): hash %q is not a 32 char hex digest", i, e.OldID, e.Hash)
		}
		if prev, ok := seen[e.OldID]; ok {
			if prev != e.Hash {
				return nil, fmt.Errorf("entry %d: oldId %s maps to both %s and %s", i, e.OldID, prev, e.Hash)
			}
			continue
		}
		seen[e.OldID] = e.Hash
		out = append(out, e)
	}
	return out, nil
}

func migrate(ctx context.Context, aliases store.AliasTable, entries []model.AliasEntry, log *slog.Logger) (int, error) {
	for i, e := range entries {
		if err := aliases.Put(ctx, e); err != nil {
			return i, fmt.Errorf("put %s: %w", e.OldID, err)
		}
		if (i+1)%1000 == 0 {
			log.Info("migration progress", "written", i+1, "total", len(entries))
		}
	}
	return len(entries), nil
}
