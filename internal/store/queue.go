package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/klppl/fedcore/internal/idgen"
	"github.com/klppl/fedcore/internal/jsonval"
	"github.com/klppl/fedcore/internal/metrics"
	"github.com/pkg/errors"
)

// EnqueueInput writes {type:"input", object:msg, req:req} to
// queue/<tid(0)>.json via a temp-rename (§4.6).
func (u *UserContext) EnqueueInput(msg, req *jsonval.Value) error {
	item := jsonval.NewObject()
	item.Set("type", jsonval.String("input"))
	item.Set("object", msg)
	item.Set("req", req)
	if err := u.publishQueueItem(idgen.Tid(0), jsonval.ObjectValue(item)); err != nil {
		return err
	}
	metrics.QueueEnqueued.WithLabelValues("input").Inc()
	return nil
}

// EnqueueOutput writes {type:"output", actor, object:msg, retries} to
// queue/<tid(delay)>.json, where delay = retries * 60 *
// query_retry_minutes seconds. Refuses (silently, §7 RefusedSelf) to
// enqueue delivery to the user's own actor URL.
func (u *UserContext) EnqueueOutput(msg *jsonval.Value, actor string, retries int) error {
	if actor == u.actor {
		return nil
	}
	delay := int64(retries) * 60 * int64(u.srv.QueryRetryMinutes())

	item := jsonval.NewObject()
	item.Set("type", jsonval.String("output"))
	item.Set("actor", jsonval.String(actor))
	item.Set("object", msg)
	item.Set("retries", jsonval.Number(float64(retries)))
	if err := u.publishQueueItem(idgen.Tid(delay), jsonval.ObjectValue(item)); err != nil {
		return err
	}
	metrics.QueueEnqueued.WithLabelValues("output").Inc()
	return nil
}

// publishQueueItem writes v to a .tmp file and renames it onto the
// final queue path, the only atomic-publish discipline the queue relies
// on (§5: rename within the same directory is atomic).
func (u *UserContext) publishQueueItem(tid string, v *jsonval.Value) error {
	if err := os.MkdirAll(queueDir(u.baseDir), 0o755); err != nil {
		return errors.Wrap(err, "mkdir queue dir")
	}
	body, err := v.MarshalIndent()
	if err != nil {
		return err
	}
	tmp := queueTmpPath(u.baseDir, tid)
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return errors.Wrap(err, "write queue tmp file")
	}
	final := queuePath(u.baseDir, tid)
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrap(err, "publish queue item")
	}
	return nil
}

// Ready returns queue file paths whose basename's integer-seconds
// prefix is ≤ now, sorted ascending by basename for a deterministic
// processing order (§4.6: "implementers may sort ascending... for
// determinism").
func (u *UserContext) Ready(now time.Time) ([]string, error) {
	names, err := listJSONFiles(queueDir(u.baseDir))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	nowSecs := now.Unix()
	var out []string
	for _, name := range names {
		tid := strings.TrimSuffix(name, ".json")
		secs, err := idgen.TidSeconds(tid)
		if err != nil {
			slog.Warn("queue ready: unparsable tid", "file", name, "error", err)
			continue
		}
		if secs <= nowSecs {
			out = append(out, filepath.Join(queueDir(u.baseDir), name))
		}
	}
	return out, nil
}

// Dequeue opens path and keeps the handle while unlinking the
// directory entry, then reads through the still-open handle. On POSIX
// an open file descriptor stays valid after its last link is removed,
// so every racing worker can open the file successfully, but only one
// worker's os.Remove call actually removes the directory entry; every
// other worker's os.Remove fails with ENOENT and that worker returns
// (nil, nil) without reading, leaving the winner as the sole reader.
// That Remove race, not the Open, is what makes dequeue at-most-once.
func (u *UserContext) Dequeue(path string) (*jsonval.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "dequeue open")
	}
	defer f.Close()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "dequeue unlink")
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "dequeue read")
	}
	metrics.QueueDequeued.Inc()
	return jsonval.ParseBytes(data)
}

// orphanTmpAge is how old a .tmp file must be before PurgeOrphans
// considers its writer crashed rather than merely slow.
const orphanTmpAge = time.Hour

// PurgeOrphans removes queue/*.json.tmp files whose writer evidently
// crashed mid-publish (older than orphanTmpAge), so they don't
// accumulate forever. Not part of the distilled spec's hot path — the
// original C source does this as opportunistic housekeeping, not on
// every Ready() call (§12).
func (u *UserContext) PurgeOrphans(now time.Time) (int, error) {
	dirents, err := godirwalk.ReadDirents(queueDir(u.baseDir), nil)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "scan queue dir")
	}

	removed := 0
	for _, de := range dirents {
		if !de.IsRegular() || !strings.HasSuffix(de.Name(), ".json.tmp") {
			continue
		}
		path := filepath.Join(queueDir(u.baseDir), de.Name())
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > orphanTmpAge {
			if err := os.Remove(path); err == nil {
				removed++
				metrics.QueueOrphansPurged.Inc()
			}
		}
	}
	return removed, nil
}
