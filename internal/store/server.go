package store

import (
	"os"
	"sync/atomic"

	"github.com/klppl/fedcore/internal/apierr"
	"github.com/klppl/fedcore/internal/jsonval"
	"github.com/klppl/fedcore/internal/logging"
	"github.com/pkg/errors"
)

// ServerContext is the process-wide, mostly-read-only configuration
// handle described in §3. It is created once by OpenServer and then
// shared by every UserContext opened against it.
type ServerContext struct {
	baseDir string
	baseURL string
	config  *jsonval.Object

	debugLevel atomic.Int32
	running    atomic.Bool
}

// OpenServer opens baseDir, parses server.json, and derives the base
// URL (§4.2). DEBUG in the environment overrides the config's
// "dbglevel" if present.
func OpenServer(baseDir string) (*ServerContext, error) {
	data, err := os.ReadFile(serverConfigPath(baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.ErrConfigMissing
		}
		return nil, errors.Wrap(err, "read server.json")
	}

	cfgVal, err := jsonval.ParseBytes(data)
	if err != nil {
		return nil, errors.Wrap(apierr.ErrConfigParse, err.Error())
	}
	cfg := cfgVal.AsObject()
	if cfg == nil {
		return nil, apierr.ErrConfigParse
	}

	hostV, hasHost := cfg.Get("host")
	prefixV, hasPrefix := cfg.Get("prefix")
	if !hasHost || hostV.AsString() == "" || !hasPrefix {
		return nil, apierr.ErrConfigIncomplete
	}

	srv := &ServerContext{
		baseDir: baseDir,
		baseURL: "https://" + hostV.AsString() + prefixV.AsString(),
		config:  cfg,
	}

	dbg := 0
	if v, ok := cfg.Get("dbglevel"); ok {
		dbg = int(v.AsNumber())
	}
	dbg = logging.DebugLevelFromEnv(dbg)
	srv.debugLevel.Store(int32(dbg))
	srv.running.Store(true)

	return srv, nil
}

// BaseDir returns the server's base directory.
func (s *ServerContext) BaseDir() string { return s.baseDir }

// BaseURL returns "https://" + host + prefix.
func (s *ServerContext) BaseURL() string { return s.baseURL }

// Config returns the parsed server.json tree. Callers must not mutate
// it except through the layout upgrader.
func (s *ServerContext) Config() *jsonval.Object { return s.config }

// DebugLevel returns the current debug level (may change at runtime via
// a signal handler, per §5).
func (s *ServerContext) DebugLevel() int { return int(s.debugLevel.Load()) }

// SetDebugLevel updates the debug level atomically.
func (s *ServerContext) SetDebugLevel(level int) { s.debugLevel.Store(int32(level)) }

// Running reports whether the server is still accepting work.
func (s *ServerContext) Running() bool { return s.running.Load() }

// Stop marks the server as no longer running (read by any thread, §5).
func (s *ServerContext) Stop() { s.running.Store(false) }

// MaxTimelineEntries returns config.max_timeline_entries (0 if unset).
func (s *ServerContext) MaxTimelineEntries() int {
	if v, ok := s.config.Get("max_timeline_entries"); ok {
		return int(v.AsNumber())
	}
	return 0
}

// QueryRetryMinutes returns config.query_retry_minutes (0 if unset).
func (s *ServerContext) QueryRetryMinutes() int {
	if v, ok := s.config.Get("query_retry_minutes"); ok {
		return int(v.AsNumber())
	}
	return 0
}

// Layout returns config.layout (0 if unset, which the upgrader treats
// as the oldest supported layout, 2.0).
func (s *ServerContext) Layout() float64 {
	if v, ok := s.config.Get("layout"); ok {
		return v.AsNumber()
	}
	return 0
}

// Redact replaces the first occurrence of this server's base directory
// with "~" in path (its prefix, for a path under the base directory), for
// log lines (§6).
func (s *ServerContext) Redact(path string) string {
	return logging.Redact(path, s.baseDir)
}

// SetLayout updates config.layout in memory. Callers must call Persist
// to write it back to server.json; used by the layout upgrader (§4.7).
func (s *ServerContext) SetLayout(v float64) {
	s.config.Set("layout", jsonval.Number(v))
}

// Persist rewrites server.json from the in-memory config tree.
func (s *ServerContext) Persist() error {
	body, err := jsonval.ObjectValue(s.config).MarshalIndent()
	if err != nil {
		return errors.Wrap(err, "marshal server.json")
	}
	if err := os.WriteFile(serverConfigPath(s.baseDir), body, 0o644); err != nil {
		return errors.Wrap(err, "write server.json")
	}
	return nil
}
