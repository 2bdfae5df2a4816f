package store

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // legacy wire-compatible format mandated by the spec
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// HashPassword returns "<nonce>:<hex_sha1(nonce:uid:passwd)>" (§6). If
// nonce is empty, 8 random hex characters are generated.
//
// SHA1 is mandated by the spec for wire compatibility with existing
// stored password hashes; it is not meant to be a strong password hash
// on its own, and no third-party KDF can be substituted without
// breaking every existing credential.
func HashPassword(uid, passwd, nonce string) (string, error) {
	if nonce == "" {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", errors.Wrap(err, "generate nonce")
		}
		nonce = hex.EncodeToString(buf[:])
	}
	return nonce + ":" + hexSHA1(nonce, uid, passwd), nil
}

// CheckPassword splits stored on its first ':', recomputes the hash for
// the given uid/passwd with the stored nonce, and compares in constant
// time (§6 — "recommended; not required by legacy").
func CheckPassword(uid, passwd, stored string) bool {
	nonce, want, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}
	got := hexSHA1(nonce, uid, passwd)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func hexSHA1(nonce, uid, passwd string) string {
	sum := sha1.Sum([]byte(nonce + ":" + uid + ":" + passwd)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
