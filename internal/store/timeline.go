package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klppl/fedcore/internal/apierr"
	"github.com/klppl/fedcore/internal/idgen"
	"github.com/klppl/fedcore/internal/jsonval"
	"github.com/klppl/fedcore/internal/metrics"
	"github.com/pkg/errors"
)

// AdmireKind distinguishes a Like from an Announce (boost) in §4.5.4.
type AdmireKind int

const (
	Like AdmireKind = iota
	Announce
)

const snacVersion = "snac/2.x"

// ─── Lookup (§4.5.1) ─────────────────────────────────────────────────────

// FindFile globs timeline/*-md5hex(id).json and returns the single match,
// or "" if none exist. Per the invariant there is at most one; if more
// than one is found (a crash-window artifact, §5), the first in sorted
// order is returned and the anomaly is logged.
func (u *UserContext) FindFile(id string) (string, error) {
	matches, err := u.timelineMatches(id)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	if len(matches) > 1 {
		slog.Warn("timeline: multiple files for one id", "id", id, "count", len(matches))
	}
	return matches[0], nil
}

func (u *UserContext) timelineMatches(id string) ([]string, error) {
	suffix := "-" + idgen.Fingerprint(id) + ".json"
	names, err := listJSONFiles(timelineDir(u.baseDir))
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			matches = append(matches, filepath.Join(timelineDir(u.baseDir), name))
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Here reports whether a timeline entry exists for id.
func (u *UserContext) Here(id string) bool {
	path, err := u.FindFile(id)
	return err == nil && path != ""
}

// Find reads and parses the timeline entry for id, if any.
func (u *UserContext) Find(id string) (*jsonval.Value, error) {
	path, err := u.FindFile(id)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}
	return u.Get(path)
}

// Get reads and parses a given timeline (or local) path, used by
// callers iterating List()'s results.
func (u *UserContext) Get(path string) (*jsonval.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jsonval.ParseBytes(data)
}

// ─── Listing (§4.5.2) ────────────────────────────────────────────────────

// List returns the last N = server.max_timeline_entries timeline file
// paths in reverse lexicographic order (newest first, since tid sorts
// chronologically).
func (u *UserContext) List() ([]string, error) {
	n := u.srv.MaxTimelineEntries()
	names, err := listJSONFiles(timelineDir(u.baseDir))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	if n > 0 && len(names) > n {
		names = names[len(names)-n:]
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[len(names)-1-i] = filepath.Join(timelineDir(u.baseDir), name)
	}
	return paths, nil
}

// ─── Insert (§4.5.3) ─────────────────────────────────────────────────────

// Add attaches a fresh _snac block to obj and runs the write-and-relink
// protocol. Returns false (refusing the insert) if id already has a
// timeline entry.
func (u *UserContext) Add(id string, obj *jsonval.Value, parent, referrer *string) (bool, error) {
	existing, err := u.FindFile(id)
	if err != nil {
		return false, err
	}
	if existing != "" {
		slog.Warn("timeline add: refused duplicate", "id", id, "error", apierr.ErrRefusedDuplicate)
		return false, nil
	}

	entry := obj.Clone()
	snac := jsonval.NewObject()
	snac.Set("children", jsonval.Array())
	snac.Set("liked_by", jsonval.Array())
	snac.Set("announced_by", jsonval.Array())
	snac.Set("version", jsonval.String(snacVersion))
	snac.Set("parent", nullableString(parent))
	snac.Set("referrer", nullableString(referrer))
	entry.AsObject().Set("_snac", jsonval.ObjectValue(snac))

	if err := u.writeAndRelink(id, entry, parent, referrer); err != nil {
		return false, err
	}
	return true, nil
}

func nullableString(s *string) *jsonval.Value {
	if s == nil {
		return jsonval.Null()
	}
	return jsonval.String(*s)
}

func stringOrNil(v *jsonval.Value) *string {
	if v == nil || v.IsNull() {
		return nil
	}
	s := v.AsString()
	return &s
}

// ─── Admire: like / announce (§4.5.4) ───────────────────────────────────

// Admire appends admirer to the target's liked_by/announced_by list (if
// not already present), sets referrer to admirer, and re-runs the
// write-and-relink protocol so the entry's tid (and ancestor chain)
// reflects the new interaction. Missing targets are logged and ignored.
func (u *UserContext) Admire(id, admirer string, kind AdmireKind) error {
	path, err := u.FindFile(id)
	if err != nil {
		return err
	}
	if path == "" {
		slog.Warn("admire: target not found", "id", id, "admirer", admirer)
		return nil
	}

	entry, err := u.Get(path)
	if err != nil {
		slog.Warn("admire: target unreadable", "id", id, "error", err)
		return nil
	}
	obj := entry.AsObject()
	snacV, _ := obj.Get("_snac")
	snac := snacV.AsObject()

	field := "liked_by"
	if kind == Announce {
		field = "announced_by"
	}
	listV, _ := snac.Get(field)
	if !listV.ContainsString(admirer) {
		listV.Append(jsonval.String(admirer))
		snac.Set(field, listV)
	}
	snac.Set("referrer", jsonval.String(admirer))

	parentV, _ := snac.Get("parent")
	parent := stringOrNil(parentV)
	referrer := admirer

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "admire: unlink previous entry")
	}
	return u.writeAndRelink(id, entry, parent, &referrer)
}

// ─── Write-and-relink protocol (§4.5.5) ─────────────────────────────────

func (u *UserContext) writeAndRelink(id string, msg *jsonval.Value, parent, referrer *string) error {
	// Step 1: write the new file for id.
	newTid := idgen.Tid(0)
	newPath := timelinePath(u.baseDir, newTid, id)
	if err := writeJSONFile(newPath, msg); err != nil {
		return err
	}
	metrics.TimelineWrites.WithLabelValues("insert").Inc()

	// Step 2: mirror to local/ if relevant to this user.
	if shouldMirror(u.actor, id, parent, referrer) {
		u.linkLocal(newPath)
	}

	// Step 3: propagate to the immediate parent.
	if parent == nil {
		return nil
	}
	parentPath, err := u.FindFile(*parent)
	if err != nil || parentPath == "" {
		return nil // parent unknown: stop, per §4.5.5 step 3a
	}
	parentEntry, err := u.Get(parentPath)
	if err != nil {
		slog.Warn("write-and-relink: parent unparseable, stopping", "parent", *parent, "error", err)
		return nil
	}
	parentObj := parentEntry.AsObject()
	parentSnacV, _ := parentObj.Get("_snac")
	parentSnac := parentSnacV.AsObject()

	childrenV, _ := parentSnac.Get("children")
	if !childrenV.ContainsString(id) {
		childrenV.Append(jsonval.String(id))
		parentSnac.Set("children", childrenV)
	}

	parentNewTid := idgen.Tid(0)
	parentNewPath := timelinePath(u.baseDir, parentNewTid, *parent)
	if err := writeJSONFile(parentNewPath, parentEntry); err != nil {
		return err
	}
	metrics.TimelineWrites.WithLabelValues("parent-relink").Inc()
	oldParentLocal := filepath.Join(localDir(u.baseDir), filepath.Base(parentPath))
	wasLocal := os.Remove(oldParentLocal) == nil
	if err := os.Remove(parentPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("write-and-relink: unlink old parent failed", "path", u.srv.Redact(parentPath), "error", err)
	}
	if wasLocal || strings.HasPrefix(id, u.actor) {
		u.linkLocal(parentNewPath)
	}

	// Step 4: propagate up the ancestor chain, renaming only (no content
	// change, so a crash mid-walk just leaves a stale sort key).
	grandParentV, _ := parentSnac.Get("parent")
	g := stringOrNil(grandParentV)

	visited := map[string]bool{id: true, *parent: true}
	for g != nil {
		if visited[*g] {
			slog.Warn("write-and-relink: ancestor cycle detected, stopping", "id", *g)
			break
		}
		visited[*g] = true

		oldG, err := u.FindFile(*g)
		if err != nil || oldG == "" {
			break
		}
		newGTid := idgen.Tid(0)
		newGPath := timelinePath(u.baseDir, newGTid, *g)
		if err := os.Rename(oldG, newGPath); err != nil {
			slog.Warn("write-and-relink: ancestor rename failed", "error", err)
			break
		}

		oldLocalG := filepath.Join(localDir(u.baseDir), filepath.Base(oldG))
		wasLocalG := os.Remove(oldLocalG) == nil
		if wasLocalG {
			u.linkLocal(newGPath)
		}

		gEntry, err := u.Get(newGPath)
		if err != nil {
			break
		}
		gSnacV, _ := gEntry.AsObject().Get("_snac")
		nextParentV, _ := gSnacV.AsObject().Get("parent")
		g = stringOrNil(nextParentV)
	}

	return nil
}

// shouldMirror reports whether id, parent, or referrer belongs to this
// user, per §4.5.5 step 2.
func shouldMirror(actorURL, id string, parent, referrer *string) bool {
	if strings.HasPrefix(id, actorURL) {
		return true
	}
	if parent != nil && strings.HasPrefix(*parent, actorURL) {
		return true
	}
	if referrer != nil && strings.HasPrefix(*referrer, actorURL) {
		return true
	}
	return false
}

// linkLocal creates a hard link in local/ pointing at newPath. Failure
// is logged but non-fatal (§4.5.5: "Failure to link is non-fatal").
func (u *UserContext) linkLocal(newPath string) {
	dst := filepath.Join(localDir(u.baseDir), filepath.Base(newPath))
	if err := os.MkdirAll(localDir(u.baseDir), 0o755); err != nil {
		slog.Warn("link local: mkdir failed", "error", err)
		return
	}
	if err := os.Link(newPath, dst); err != nil && !os.IsExist(err) {
		slog.Warn("link local: failed", "path", u.srv.Redact(dst), "error", err)
	}
}

// ─── Delete (§4.5.6) ─────────────────────────────────────────────────────

// Del removes id's timeline entry and its local mirror, if present.
// Ancestors are not rewritten; readers tolerate a dangling child id.
func (u *UserContext) Del(id string) error {
	path, err := u.FindFile(id)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "timeline del")
	}
	local := filepath.Join(localDir(u.baseDir), filepath.Base(path))
	return unlinkIgnoreENOENT(local)
}

// ─── Ancestors (§12 supplemented feature) ───────────────────────────────

// Ancestors walks the _snac.parent chain starting at id's entry,
// returning each ancestor in order from nearest to furthest. Present in
// the original C source for thread rendering; the web UI itself stays
// out of scope, but the read-only walk reuses the same cycle-guarded
// traversal the write-and-relink protocol already requires.
func (u *UserContext) Ancestors(id string) ([]*jsonval.Value, error) {
	var out []*jsonval.Value
	visited := map[string]bool{id: true}

	entry, err := u.Find(id)
	if err != nil || entry == nil {
		return out, err
	}
	snacV, _ := entry.AsObject().Get("_snac")
	parentV, _ := snacV.AsObject().Get("parent")
	cur := stringOrNil(parentV)

	for cur != nil {
		if visited[*cur] {
			break
		}
		visited[*cur] = true

		next, err := u.Find(*cur)
		if err != nil || next == nil {
			break
		}
		out = append(out, next)

		nSnacV, _ := next.AsObject().Get("_snac")
		nParentV, _ := nSnacV.AsObject().Get("parent")
		cur = stringOrNil(nParentV)
	}
	return out, nil
}
