package upgrade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klppl/fedcore/internal/store"
)

func newServerAt(t *testing.T, layout string) *store.ServerContext {
	t.Helper()
	dir := t.TempDir()
	body := `{
    "host": "example.social",
    "prefix": "",
    "layout": ` + layout + `,
    "max_timeline_entries": 100,
    "query_retry_minutes": 2
}`
	if err := os.WriteFile(filepath.Join(dir, "server.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write server.json: %v", err)
	}
	srv, err := store.OpenServer(dir)
	if err != nil {
		t.Fatalf("OpenServer: %v", err)
	}
	return srv
}

func TestRunUpgradesToCurrentLayout(t *testing.T) {
	srv := newServerAt(t, "2.0")
	if err := Run(srv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.Layout() != CurrentLayout {
		t.Fatalf("Layout() = %v, want %v", srv.Layout(), CurrentLayout)
	}
	if _, err := os.Stat(filepath.Join(srv.BaseDir(), "object")); err != nil {
		t.Fatalf("expected object/ dir to exist after upgrade: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	srv := newServerAt(t, "2.0")
	if err := Run(srv); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := Run(srv); err != nil {
		t.Fatalf("second Run on already-upgraded tree: %v", err)
	}
	if srv.Layout() != CurrentLayout {
		t.Fatalf("Layout() = %v after second run, want %v", srv.Layout(), CurrentLayout)
	}
}

func TestRunNoopAtCurrentLayout(t *testing.T) {
	srv := newServerAt(t, "2.4")
	if err := Run(srv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.Layout() != CurrentLayout {
		t.Fatalf("Layout() = %v, want %v", srv.Layout(), CurrentLayout)
	}
}

func TestRunRejectsFutureLayout(t *testing.T) {
	srv := newServerAt(t, "9.9")
	if err := Run(srv); err == nil {
		t.Fatal("expected error for a layout newer than this binary supports")
	}
}

func TestRunTreatsMissingLayoutAsOldest(t *testing.T) {
	dir := t.TempDir()
	body := `{"host": "example.social", "prefix": ""}`
	if err := os.WriteFile(filepath.Join(dir, "server.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write server.json: %v", err)
	}
	srv, err := store.OpenServer(dir)
	if err != nil {
		t.Fatalf("OpenServer: %v", err)
	}
	if err := Run(srv); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.Layout() != CurrentLayout {
		t.Fatalf("Layout() = %v, want %v", srv.Layout(), CurrentLayout)
	}
}

func TestMigrateActorCacheMovesFiles(t *testing.T) {
	srv := newServerAt(t, "2.1")
	uid := "alice"
	uDir := filepath.Join(srv.BaseDir(), "user", uid)
	actorsDir := filepath.Join(uDir, "actors")
	if err := os.MkdirAll(actorsDir, 0o755); err != nil {
		t.Fatalf("mkdir actors: %v", err)
	}
	if err := os.WriteFile(filepath.Join(uDir, "user.json"), []byte(`{"name":"alice"}`), 0o644); err != nil {
		t.Fatalf("write user.json: %v", err)
	}
	fname := "abcd1234abcd1234abcd1234abcd1234.json"
	if err := os.WriteFile(filepath.Join(actorsDir, fname), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write actor file: %v", err)
	}

	if err := Run(srv); err != nil {
		t.Fatalf("Run: %v", err)
	}

	moved := filepath.Join(srv.BaseDir(), "object", "ab", fname)
	if _, err := os.Stat(moved); err != nil {
		t.Fatalf("expected actor cache file at %s: %v", moved, err)
	}
}
