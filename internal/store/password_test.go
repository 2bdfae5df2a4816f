package store

import "testing"

func TestHashAndCheckPasswordRoundTrip(t *testing.T) {
	stored, err := HashPassword("alice", "correct horse battery staple", "")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("alice", "correct horse battery staple", stored) {
		t.Fatal("CheckPassword rejected the password it was hashed with")
	}
	if CheckPassword("alice", "wrong password", stored) {
		t.Fatal("CheckPassword accepted an incorrect password")
	}
	if CheckPassword("bob", "correct horse battery staple", stored) {
		t.Fatal("CheckPassword accepted a mismatched uid")
	}
}

func TestHashPasswordUsesGivenNonce(t *testing.T) {
	stored, err := HashPassword("alice", "hunter2", "deadbeef")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	want := "deadbeef:" + hexSHA1("deadbeef", "alice", "hunter2")
	if stored != want {
		t.Fatalf("HashPassword(nonce) = %q, want %q", stored, want)
	}
}

func TestCheckPasswordRejectsMalformedStored(t *testing.T) {
	if CheckPassword("alice", "hunter2", "no-colon-here") {
		t.Fatal("CheckPassword accepted a stored value without a nonce separator")
	}
}
