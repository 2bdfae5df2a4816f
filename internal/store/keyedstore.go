package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/klppl/fedcore/internal/apierr"
	"github.com/klppl/fedcore/internal/jsonval"
	"github.com/klppl/fedcore/internal/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// staleAfter is the actor-cache staleness window (§4.4).
const staleAfter = 36 * time.Hour

// writeJSONFile pretty-prints v and writes it to path, creating parent
// directories as needed. Failures are returned as an *apierr.Status
// with Code apierr.StatusError (500), so callers can return the exact
// §4.4 status codes.
func writeJSONFile(path string, v *jsonval.Value) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.New(apierr.StatusError, errors.Wrap(err, "mkdir"))
	}
	body, err := v.MarshalIndent()
	if err != nil {
		return apierr.New(apierr.StatusError, errors.Wrap(err, "marshal"))
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return apierr.New(apierr.StatusError, errors.Wrap(err, "write"))
	}
	return nil
}

// unlinkIgnoreENOENT removes path, treating "already gone" as success
// (§4.4 del: "ignoring ENOENT").
func unlinkIgnoreENOENT(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// fileExists reports whether path names an existing file (§4.4 check:
// "true iff mtime > 0", which in practice means the file is there).
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ─── Followers ───────────────────────────────────────────────────────────

// AddFollower writes the follow Activity payload for actor and returns
// 201 on success, 500 on write failure (§4.4).
func (u *UserContext) AddFollower(actor string, payload *jsonval.Value) int {
	if err := writeJSONFile(followerPath(u.baseDir, actor), payload); err != nil {
		slog.Error("add follower failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusCreated
}

// DelFollower removes the follower record for actor.
func (u *UserContext) DelFollower(actor string) int {
	if err := unlinkIgnoreENOENT(followerPath(u.baseDir, actor)); err != nil {
		slog.Error("del follower failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusOK
}

// CheckFollower reports whether actor is a recorded follower.
func (u *UserContext) CheckFollower(actor string) bool {
	return fileExists(followerPath(u.baseDir, actor))
}

// ListFollowers reads every followers/*.json file, skipping any that
// fail to parse (§4.4, §7 — a corrupt file never halts enumeration).
func (u *UserContext) ListFollowers() ([]*jsonval.Value, error) {
	names, err := listJSONFiles(followersDir(u.baseDir))
	if err != nil {
		return nil, err
	}
	var out []*jsonval.Value
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(followersDir(u.baseDir), name))
		if err != nil {
			slog.Warn("list followers: unreadable file", "file", name, "error", err)
			continue
		}
		v, err := jsonval.ParseBytes(data)
		if err != nil {
			slog.Warn("list followers: unparsable file", "file", name, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ─── Following ───────────────────────────────────────────────────────────

// AddFollowing writes the following record for actor.
func (u *UserContext) AddFollowing(actor string, payload *jsonval.Value) int {
	if err := writeJSONFile(followingPath(u.baseDir, actor), payload); err != nil {
		slog.Error("add following failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusCreated
}

// DelFollowing removes the following record for actor.
func (u *UserContext) DelFollowing(actor string) int {
	if err := unlinkIgnoreENOENT(followingPath(u.baseDir, actor)); err != nil {
		slog.Error("del following failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusOK
}

// CheckFollowing reports whether actor is recorded as followed.
func (u *UserContext) CheckFollowing(actor string) bool {
	return fileExists(followingPath(u.baseDir, actor))
}

// ─── Muted ───────────────────────────────────────────────────────────────

// AddMuted writes actor's URL as a one-line text file (§4.4: "muted
// uses text, not JSON").
func (u *UserContext) AddMuted(actor string) int {
	path := mutedPath(u.baseDir, actor)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Error("add muted failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	if err := os.WriteFile(path, []byte(actor+"\n"), 0o644); err != nil {
		slog.Error("add muted failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusCreated
}

// DelMuted removes the mute record for actor.
func (u *UserContext) DelMuted(actor string) int {
	if err := unlinkIgnoreENOENT(mutedPath(u.baseDir, actor)); err != nil {
		slog.Error("del muted failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusOK
}

// CheckMuted reports whether actor is muted.
func (u *UserContext) CheckMuted(actor string) bool {
	return fileExists(mutedPath(u.baseDir, actor))
}

// ─── Actor cache ─────────────────────────────────────────────────────────

// AddActor caches payload for actor in the server-wide actor cache.
func AddActor(srv *ServerContext, actor string, payload *jsonval.Value) int {
	if err := writeJSONFile(actorCachePath(srv.baseDir, actor), payload); err != nil {
		slog.Error("add actor failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusCreated
}

// DelActor removes actor's cache entry.
func DelActor(srv *ServerContext, actor string) int {
	if err := unlinkIgnoreENOENT(actorCachePath(srv.baseDir, actor)); err != nil {
		slog.Error("del actor failed", "actor", actor, "error", err)
		return apierr.StatusError
	}
	return apierr.StatusOK
}

// CheckActor reports whether actor has a cache entry.
func CheckActor(srv *ServerContext, actor string) bool {
	return fileExists(actorCachePath(srv.baseDir, actor))
}

// GetActor implements §4.4's actor_get: 404 if unknown, 205 plus a
// mtime touch if stale (> 36h old), 200 otherwise, 500 on read/parse
// failure of a file that does exist.
func GetActor(srv *ServerContext, actor string) (int, *jsonval.Value) {
	path := actorCachePath(srv.baseDir, actor)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.ActorCacheStatus.WithLabelValues("404").Inc()
			return apierr.StatusNotFound, nil
		}
		slog.Error("get actor: stat failed", "actor", actor, "error", err)
		metrics.ActorCacheStatus.WithLabelValues("500").Inc()
		return apierr.StatusError, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("get actor: read failed", "actor", actor, "error", err)
		metrics.ActorCacheStatus.WithLabelValues("500").Inc()
		return apierr.StatusError, nil
	}
	v, err := jsonval.ParseBytes(data)
	if err != nil {
		slog.Error("get actor: parse failed", "actor", actor, "error", err)
		metrics.ActorCacheStatus.WithLabelValues("500").Inc()
		return apierr.StatusError, nil
	}

	if time.Since(info.ModTime()) > staleAfter {
		touchFile(path)
		metrics.ActorCacheStatus.WithLabelValues("205").Inc()
		return apierr.StatusReset, v
	}
	metrics.ActorCacheStatus.WithLabelValues("200").Inc()
	return apierr.StatusOK, v
}

// MarkDead writes a 1-byte sentinel body onto an actor's cache entry,
// meaning "known dead, don't retry soon". Present in the original C
// source's actor cache but absent from the distilled spec (§12); does
// not change the 200/205/404/500 contract other callers observe,
// since IsDead is a distinct, additive read.
func MarkDead(srv *ServerContext, actor string) int {
	path := actorCachePath(srv.baseDir, actor)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.StatusError
	}
	if err := os.WriteFile(path, []byte("\x00"), 0o644); err != nil {
		return apierr.StatusError
	}
	return apierr.StatusOK
}

// IsDead reports whether actor's cache entry is the 1-byte dead sentinel.
func IsDead(srv *ServerContext, actor string) bool {
	data, err := os.ReadFile(actorCachePath(srv.baseDir, actor))
	return err == nil && len(data) == 1 && data[0] == 0
}

// touchFile advances path's mtime to now, using utimensat via
// golang.org/x/sys/unix rather than a read-then-rewrite — the spec
// explicitly allows either, and utimensat avoids perturbing the file's
// content or triggering another writer's glob+parse race.
func touchFile(path string) {
	now := unix.NsecToTimespec(time.Now().UnixNano())
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{now, now}, 0); err != nil {
		slog.Warn("touch actor cache: utimensat failed", "path", path, "error", err)
	}
}

// listJSONFiles returns the basenames of every "*.json" regular file
// directly inside dir, using godirwalk's scandir (cheap when dir holds
// many thousands of small fixed-shape records).
func listJSONFiles(dir string) ([]string, error) {
	dirents, err := godirwalk.ReadDirents(dir, nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scan dir")
	}
	var names []string
	for _, de := range dirents {
		if de.IsRegular() && strings.HasSuffix(de.Name(), ".json") {
			names = append(names, de.Name())
		}
	}
	return names, nil
}
