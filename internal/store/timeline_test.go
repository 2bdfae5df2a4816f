package store

import (
	"testing"

	"github.com/klppl/fedcore/internal/jsonval"
)

func newNote(id string) *jsonval.Value {
	o := jsonval.NewObject()
	o.Set("id", jsonval.String(id))
	o.Set("type", jsonval.String("Note"))
	return jsonval.ObjectValue(o)
}

func TestTimelineAddAndFind(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")

	id := u.ActorURL() + "/note/1"
	ok, err := u.Add(id, newNote(id), nil, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !ok {
		t.Fatal("Add returned false for a fresh id")
	}
	if !u.Here(id) {
		t.Fatal("Here() false right after Add")
	}

	entry, err := u.Find(id)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if entry == nil {
		t.Fatal("Find returned nil entry")
	}
	snac, _ := entry.AsObject().Get("_snac")
	if snac == nil || snac.AsObject() == nil {
		t.Fatal("entry missing _snac block")
	}
}

func TestTimelineAddRefusesDuplicate(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")

	id := u.ActorURL() + "/note/1"
	if _, err := u.Add(id, newNote(id), nil, nil); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	ok, err := u.Add(id, newNote(id), nil, nil)
	if err != nil {
		t.Fatalf("second Add returned error: %v", err)
	}
	if ok {
		t.Fatal("second Add for same id should have been refused")
	}
}

func TestTimelineAddLinksToParentAndMirrorsLocal(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")

	parentID := u.ActorURL() + "/note/parent"
	if _, err := u.Add(parentID, newNote(parentID), nil, nil); err != nil {
		t.Fatalf("add parent: %v", err)
	}

	childID := "https://remote.example/users/bob/note/child"
	parent := parentID
	if _, err := u.Add(childID, newNote(childID), &parent, &parent); err != nil {
		t.Fatalf("add child: %v", err)
	}

	parentEntry, err := u.Find(parentID)
	if err != nil || parentEntry == nil {
		t.Fatalf("Find(parent) after child add: %v", err)
	}
	snacV, _ := parentEntry.AsObject().Get("_snac")
	childrenV, _ := snacV.AsObject().Get("children")
	if !childrenV.ContainsString(childID) {
		t.Fatal("parent's children list does not contain the new child id")
	}

	// The parent belongs to this user, so it should have been mirrored
	// into local/ at least once across its rewrites.
	localNames, err := listJSONFiles(localDir(u.baseDir))
	if err != nil {
		t.Fatalf("list local: %v", err)
	}
	if len(localNames) == 0 {
		t.Fatal("expected at least one file mirrored into local/")
	}
}

func TestTimelineAdmireAppendsAndDedupes(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")

	id := u.ActorURL() + "/note/1"
	if _, err := u.Add(id, newNote(id), nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	admirer := "https://remote.example/users/bob"
	if err := u.Admire(id, admirer, Like); err != nil {
		t.Fatalf("Admire: %v", err)
	}
	if err := u.Admire(id, admirer, Like); err != nil {
		t.Fatalf("Admire (repeat): %v", err)
	}

	entry, err := u.Find(id)
	if err != nil || entry == nil {
		t.Fatalf("Find after Admire: %v", err)
	}
	snacV, _ := entry.AsObject().Get("_snac")
	likedBy, _ := snacV.AsObject().Get("liked_by")
	if len(likedBy.AsArray()) != 1 {
		t.Fatalf("liked_by has %d entries, want 1 (deduped)", len(likedBy.AsArray()))
	}
}

func TestTimelineAdmireMissingTargetIsNoop(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")
	if err := u.Admire("https://nowhere.example/note/ghost", "https://x.example/users/z", Like); err != nil {
		t.Fatalf("Admire on missing target returned error: %v", err)
	}
}

func TestTimelineDelRemovesEntryAndLocalMirror(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")

	id := u.ActorURL() + "/note/1"
	if _, err := u.Add(id, newNote(id), nil, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, err := listJSONFiles(localDir(u.baseDir))
	if err != nil {
		t.Fatalf("list local: %v", err)
	}
	if len(before) != 1 {
		t.Fatalf("local/ holds %d files before Del, want 1", len(before))
	}
	if err := u.Del(id); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if u.Here(id) {
		t.Fatal("Here() true after Del")
	}
	after, err := listJSONFiles(localDir(u.baseDir))
	if err != nil {
		t.Fatalf("list local: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("local/ still holds %v after Del", after)
	}
}

func TestTimelineListNewestFirstAndBounded(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")

	var ids []string
	for i := 0; i < 5; i++ {
		id := u.ActorURL() + "/note/" + string(rune('a'+i))
		if _, err := u.Add(id, newNote(id), nil, nil); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	paths, err := u.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 5 {
		t.Fatalf("List() = %d entries, want 5", len(paths))
	}

	first, err := u.Get(paths[0])
	if err != nil {
		t.Fatalf("Get(first): %v", err)
	}
	lastID, _ := first.AsObject().Get("id")
	if lastID.AsString() != ids[len(ids)-1] {
		t.Fatalf("List()[0] id = %q, want the most recently added %q", lastID.AsString(), ids[len(ids)-1])
	}

	srv.config.Set("max_timeline_entries", jsonval.Number(3))
	bounded, err := u.List()
	if err != nil {
		t.Fatalf("List (bounded): %v", err)
	}
	if len(bounded) != 3 {
		t.Fatalf("List() with max_timeline_entries=3 = %d entries, want 3", len(bounded))
	}
	if bounded[0] != paths[0] {
		t.Fatalf("bounded List()[0] = %q, want newest %q", bounded[0], paths[0])
	}
}

func TestTimelineAncestorsWalksChainAndGuardsCycles(t *testing.T) {
	srv := newTestServer(t)
	u := newTestUser(t, srv, "alice")

	grandparent := u.ActorURL() + "/note/gp"
	parent := u.ActorURL() + "/note/p"
	child := u.ActorURL() + "/note/c"

	if _, err := u.Add(grandparent, newNote(grandparent), nil, nil); err != nil {
		t.Fatalf("add grandparent: %v", err)
	}
	gp := grandparent
	if _, err := u.Add(parent, newNote(parent), &gp, &gp); err != nil {
		t.Fatalf("add parent: %v", err)
	}
	p := parent
	if _, err := u.Add(child, newNote(child), &p, &p); err != nil {
		t.Fatalf("add child: %v", err)
	}

	ancestors, err := u.Ancestors(child)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("Ancestors(child) = %d entries, want 2 (parent, grandparent)", len(ancestors))
	}
	firstID, _ := ancestors[0].AsObject().Get("id")
	if firstID.AsString() != parent {
		t.Fatalf("Ancestors(child)[0] = %q, want parent %q", firstID.AsString(), parent)
	}

	// Point the grandparent back at the child to form a cycle; the walk
	// must still stop after parent and grandparent.
	gpPath, err := u.FindFile(grandparent)
	if err != nil || gpPath == "" {
		t.Fatalf("FindFile(grandparent) = %q, %v", gpPath, err)
	}
	gpEntry, err := u.Get(gpPath)
	if err != nil {
		t.Fatalf("Get(grandparent): %v", err)
	}
	gpSnac, _ := gpEntry.AsObject().Get("_snac")
	gpSnac.AsObject().Set("parent", jsonval.String(child))
	if err := writeJSONFile(gpPath, gpEntry); err != nil {
		t.Fatalf("rewrite grandparent: %v", err)
	}
	cyclic, err := u.Ancestors(child)
	if err != nil {
		t.Fatalf("Ancestors (cycle): %v", err)
	}
	if len(cyclic) != 2 {
		t.Fatalf("Ancestors(child) with a cycle = %d entries, want 2", len(cyclic))
	}
}
