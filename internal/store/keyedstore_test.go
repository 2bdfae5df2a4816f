package store

import (
	"os"
	"testing"
	"time"

	"github.com/klppl/fedcore/internal/apierr"
	"github.com/klppl/fedcore/internal/jsonval"
)

func TestFollowerLifecycle(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")
	actor := "https://remote.example/users/bob"

	if u.CheckFollower(actor) {
		t.Fatal("CheckFollower true before add")
	}
	if code := u.AddFollower(actor, jsonval.NewObjectValue()); code != apierr.StatusCreated {
		t.Fatalf("AddFollower code = %d, want 201", code)
	}
	if !u.CheckFollower(actor) {
		t.Fatal("CheckFollower false after add")
	}

	followers, err := u.ListFollowers()
	if err != nil {
		t.Fatalf("ListFollowers: %v", err)
	}
	if len(followers) != 1 {
		t.Fatalf("ListFollowers() = %d entries, want 1", len(followers))
	}

	if code := u.DelFollower(actor); code != apierr.StatusOK {
		t.Fatalf("DelFollower code = %d, want 200", code)
	}
	if u.CheckFollower(actor) {
		t.Fatal("CheckFollower true after delete")
	}
}

func TestDelFollowerIdempotent(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")
	if code := u.DelFollower("https://x.example/users/nobody"); code != apierr.StatusOK {
		t.Fatalf("DelFollower on missing record = %d, want 200", code)
	}
}

func TestFollowingLifecycle(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")
	actor := "https://remote.example/users/carol"

	if code := u.AddFollowing(actor, jsonval.NewObjectValue()); code != apierr.StatusCreated {
		t.Fatalf("AddFollowing code = %d", code)
	}
	if !u.CheckFollowing(actor) {
		t.Fatal("CheckFollowing false after add")
	}
	u.DelFollowing(actor)
	if u.CheckFollowing(actor) {
		t.Fatal("CheckFollowing true after delete")
	}
}

func TestMutedLifecycle(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")
	actor := "https://spammy.example/users/troll"

	if u.CheckMuted(actor) {
		t.Fatal("CheckMuted true before add")
	}
	u.AddMuted(actor)
	if !u.CheckMuted(actor) {
		t.Fatal("CheckMuted false after add")
	}
	u.DelMuted(actor)
	if u.CheckMuted(actor) {
		t.Fatal("CheckMuted true after delete")
	}
}

func TestActorCacheGetStatuses(t *testing.T) {
	srv := newTestServer(t)
	actor := "https://remote.example/users/dave"

	if code, v := GetActor(srv, actor); code != apierr.StatusNotFound || v != nil {
		t.Fatalf("GetActor(missing) = %d, %v, want 404, nil", code, v)
	}

	payload := jsonval.NewObjectValue()
	payload.AsObject().Set("id", jsonval.String(actor))
	if code := AddActor(srv, actor, payload); code != apierr.StatusCreated {
		t.Fatalf("AddActor code = %d, want 201", code)
	}

	code, v := GetActor(srv, actor)
	if code != apierr.StatusOK {
		t.Fatalf("GetActor(fresh) code = %d, want 200", code)
	}
	if v.AsObject() == nil {
		t.Fatal("GetActor(fresh) returned no object")
	}

	// Force staleness by rewinding the cache file's mtime beyond the window.
	path := actorCachePath(srv.baseDir, actor)
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	code, v = GetActor(srv, actor)
	if code != apierr.StatusReset {
		t.Fatalf("GetActor(stale) code = %d, want 205", code)
	}
	if v == nil {
		t.Fatal("GetActor(stale) returned nil value")
	}

	DelActor(srv, actor)
	if CheckActor(srv, actor) {
		t.Fatal("CheckActor true after DelActor")
	}
}

func TestMarkDeadIsDead(t *testing.T) {
	srv := newTestServer(t)
	actor := "https://dead.example/users/gone"

	if IsDead(srv, actor) {
		t.Fatal("IsDead true before MarkDead")
	}
	if code := MarkDead(srv, actor); code != apierr.StatusOK {
		t.Fatalf("MarkDead code = %d, want 200", code)
	}
	if !IsDead(srv, actor) {
		t.Fatal("IsDead false after MarkDead")
	}
}
