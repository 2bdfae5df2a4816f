package store

import (
	"path/filepath"
	"regexp"

	"github.com/klppl/fedcore/internal/idgen"
)

// validUserID matches §3's UserId grammar.
var validUserID = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidUserID reports whether uid matches [A-Za-z0-9_]+.
func ValidUserID(uid string) bool {
	return uid != "" && validUserID.MatchString(uid)
}

// ─── Server-relative paths ──────────────────────────────────────────────────

func serverConfigPath(baseDir string) string {
	return filepath.Join(baseDir, "server.json")
}

func userRootDir(baseDir string) string {
	return filepath.Join(baseDir, "user")
}

func userDir(baseDir, uid string) string {
	return filepath.Join(userRootDir(baseDir), uid)
}

// actorCacheDir returns the server-wide actor cache directory, sharded by
// the first two hex characters of the fingerprint (§3, §4.7 step 2.1→2.2).
func actorCacheDir(baseDir string) string {
	return filepath.Join(baseDir, "object")
}

func actorCacheShard(baseDir, actor string) string {
	fp := idgen.Fingerprint(actor)
	return filepath.Join(actorCacheDir(baseDir), fp[:2])
}

func actorCachePath(baseDir, actor string) string {
	fp := idgen.Fingerprint(actor)
	return filepath.Join(actorCacheShard(baseDir, actor), fp+".json")
}

// ─── User-relative paths ────────────────────────────────────────────────────

func userConfigPath(uDir string) string { return filepath.Join(uDir, "user.json") }
func userKeyPath(uDir string) string    { return filepath.Join(uDir, "key.json") }

func followersDir(uDir string) string { return filepath.Join(uDir, "followers") }
func followingDir(uDir string) string { return filepath.Join(uDir, "following") }
func mutedDir(uDir string) string     { return filepath.Join(uDir, "muted") }
func hiddenDir(uDir string) string    { return filepath.Join(uDir, "hidden") }
func publicDir(uDir string) string    { return filepath.Join(uDir, "public") }
func privateDir(uDir string) string   { return filepath.Join(uDir, "private") }
func timelineDir(uDir string) string  { return filepath.Join(uDir, "timeline") }
func localDir(uDir string) string     { return filepath.Join(uDir, "local") }
func queueDir(uDir string) string     { return filepath.Join(uDir, "queue") }

func followerPath(uDir, actor string) string {
	return filepath.Join(followersDir(uDir), idgen.Fingerprint(actor)+".json")
}

func followingPath(uDir, actor string) string {
	return filepath.Join(followingDir(uDir), idgen.Fingerprint(actor)+".json")
}

// mutedPath has no extension, per the 2.2→2.3 upgrade step.
func mutedPath(uDir, actor string) string {
	return filepath.Join(mutedDir(uDir), idgen.Fingerprint(actor))
}

// timelineFileName builds the "<tid>-<md5(id)>.json" basename used by
// both timeline/ and local/.
func timelineFileName(tid, id string) string {
	return tid + "-" + idgen.Fingerprint(id) + ".json"
}

func timelinePath(uDir, tid, id string) string {
	return filepath.Join(timelineDir(uDir), timelineFileName(tid, id))
}

func localPath(uDir, tid, id string) string {
	return filepath.Join(localDir(uDir), timelineFileName(tid, id))
}

// timelineGlobPattern matches every file for id, regardless of tid (§4.5.1).
func timelineGlobPattern(uDir, id string) string {
	return filepath.Join(timelineDir(uDir), "*-"+idgen.Fingerprint(id)+".json")
}

func queuePath(uDir, tid string) string {
	return filepath.Join(queueDir(uDir), tid+".json")
}

func queueTmpPath(uDir, tid string) string {
	return filepath.Join(queueDir(uDir), tid+".json.tmp")
}
