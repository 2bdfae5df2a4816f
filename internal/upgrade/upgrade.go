// Package upgrade implements the forward-only on-disk layout upgrader
// (§4.7). It runs once at startup, before any other component services
// requests.
package upgrade

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/klppl/fedcore/internal/apierr"
	"github.com/klppl/fedcore/internal/metrics"
	"github.com/klppl/fedcore/internal/store"
	"github.com/pkg/errors"
)

// CurrentLayout is the compiled-in target layout version.
const CurrentLayout = 2.4

// minSupportedLayout is the oldest layout this binary can upgrade from.
// Anything strictly below this predates the supported forward-migration
// chain (§4.7's "<2.0 → UnsupportedLayout").
const minSupportedLayout = 2.0

type step struct {
	from, to float64
	action   func(srv *store.ServerContext) error
}

var steps = []step{
	{2.0, 2.1, mkdirObjectStore},
	{2.1, 2.2, migrateActorCache},
	{2.2, 2.3, migrateMutedAndHidden},
	{2.3, 2.4, migratePublicPrivate},
}

// Run applies every pending forward step in strict order, persisting
// server.json after each successful step. Each step is idempotent, so
// running Run twice over an already-upgraded tree is a no-op.
func Run(srv *store.ServerContext) error {
	current := srv.Layout()
	if current == 0 {
		// No layout recorded yet: treat as the oldest supported tree so
		// the full chain runs. Every step below is safe on an empty or
		// partially-populated tree (mkdir/rename are idempotent).
		current = minSupportedLayout
	}

	if current < minSupportedLayout {
		return errors.Wrapf(apierr.ErrUnsupportedLayout, "layout %.1f", current)
	}
	if current > CurrentLayout {
		return errors.Wrapf(apierr.ErrFutureLayout, "layout %.1f > %.1f", current, CurrentLayout)
	}

	for current < CurrentLayout {
		s, ok := findStep(current)
		if !ok {
			return errors.Errorf("upgrade: no step defined from layout %.1f", current)
		}

		slog.Info("running layout upgrade step", "from", s.from, "to", s.to)
		if err := s.action(srv); err != nil {
			return errors.Wrapf(err, "upgrade %.1f -> %.1f", s.from, s.to)
		}

		current = s.to
		srv.SetLayout(current)
		if err := srv.Persist(); err != nil {
			return errors.Wrap(err, "persist server.json after upgrade step")
		}
		metrics.UpgradeStepsApplied.Inc()
	}

	return nil
}

func findStep(from float64) (step, bool) {
	for _, s := range steps {
		if s.from == from {
			return s, true
		}
	}
	return step{}, false
}

// ─── 2.0 → 2.1: mkdir server/object ─────────────────────────────────────

func mkdirObjectStore(srv *store.ServerContext) error {
	return os.MkdirAll(filepath.Join(srv.BaseDir(), "object"), 0o755)
}

// ─── 2.1 → 2.2: actors/*.json → object/<c0c1>/<basename> ───────────────

func migrateActorCache(srv *store.ServerContext) error {
	uids, err := store.ListUsers(srv)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		actorsDir := filepath.Join(srv.BaseDir(), "user", uid, "actors")
		dirents, err := godirwalk.ReadDirents(actorsDir, nil)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "scan actors dir for %s", uid)
		}

		for _, de := range dirents {
			if !de.IsRegular() || !strings.HasSuffix(de.Name(), ".json") {
				continue
			}
			src := filepath.Join(actorsDir, de.Name())
			shard := de.Name()[:2]
			destDir := filepath.Join(srv.BaseDir(), "object", shard)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return err
			}
			dest := filepath.Join(destDir, de.Name())
			if err := os.Rename(src, dest); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "move %s", src)
			}
		}

		// Best-effort: only succeeds once the directory is actually empty.
		// A rerun over an already-migrated tree never gets here, since the
		// missing actors dir is skipped above.
		if err := os.Remove(actorsDir); err != nil && !os.IsNotExist(err) {
			slog.Debug("upgrade 2.1->2.2: actors dir not empty, leaving in place", "uid", uid, "error", err)
		}
	}
	return nil
}

// ─── 2.2 → 2.3: create hidden/, strip .json off muted/* ─────────────────

func migrateMutedAndHidden(srv *store.ServerContext) error {
	uids, err := store.ListUsers(srv)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		userDir := filepath.Join(srv.BaseDir(), "user", uid)

		if err := os.MkdirAll(filepath.Join(userDir, "hidden"), 0o755); err != nil {
			return err
		}

		mutedDir := filepath.Join(userDir, "muted")
		dirents, err := godirwalk.ReadDirents(mutedDir, nil)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "scan muted dir for %s", uid)
		}
		for _, de := range dirents {
			if !de.IsRegular() || !strings.HasSuffix(de.Name(), ".json") {
				continue
			}
			src := filepath.Join(mutedDir, de.Name())
			dest := strings.TrimSuffix(src, ".json")
			if err := os.Rename(src, dest); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "strip extension on %s", src)
			}
		}
	}
	return nil
}

// ─── 2.3 → 2.4: create public/, private/ ────────────────────────────────

func migratePublicPrivate(srv *store.ServerContext) error {
	uids, err := store.ListUsers(srv)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		userDir := filepath.Join(srv.BaseDir(), "user", uid)
		if err := os.MkdirAll(filepath.Join(userDir, "public"), 0o755); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(userDir, "private"), 0o755); err != nil {
			return err
		}
	}
	return nil
}
