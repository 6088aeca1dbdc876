// Long-term credential mechanism (RFC 5389 §10.2, §15.4): key derivation,
// MESSAGE-INTEGRITY, and the CredentialStore the spec's STUN credential
// store collaborator is modeled as. Grounded on the teacher's
// TURNClientConfig.Username/Password/Realm fields, given real RFC
// semantics in place of the teacher's mock allocate/permission logic.
package turn

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
)

// CredentialStore supplies the long-term credential used to answer a 401
// challenge for a realm. This is the external STUN credential store
// collaborator; internals (rotation, persistence) are the embedding
// application's concern.
type CredentialStore interface {
	Credential(realm string) (username, password string, ok bool)
}

// StaticCredentialStore is a single fixed username/password pair, the
// common case for a TURN client configured up front.
type StaticCredentialStore struct {
	Username string
	Password string
}

func (s StaticCredentialStore) Credential(realm string) (string, string, bool) {
	if s.Username == "" {
		return "", "", false
	}
	return s.Username, s.Password, true
}

// longTermKey derives the MESSAGE-INTEGRITY HMAC key per RFC 5389 §15.4:
// MD5(username ':' realm ':' password).
func longTermKey(username, realm, password string) []byte {
	h := md5.New()
	h.Write([]byte(username))
	h.Write([]byte(":"))
	h.Write([]byte(realm))
	h.Write([]byte(":"))
	h.Write([]byte(password))
	return h.Sum(nil)
}

func hmacSHA1(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// verifyIntegrity recomputes MESSAGE-INTEGRITY over raw (the full wire
// message, including the header whose length field already accounted for
// the attribute) up to the point the attribute starts, and compares it to
// the value present in msg.
func verifyIntegrity(raw []byte, key []byte) bool {
	idx := findMessageIntegrityOffset(raw)
	if idx < 0 {
		return false
	}
	got := raw[idx+4 : idx+4+20]
	want := hmacSHA1(key, raw[:idx])
	return hmac.Equal(got, want)
}

// findMessageIntegrityOffset returns the byte offset of the
// MESSAGE-INTEGRITY attribute's type field within raw, or -1.
func findMessageIntegrityOffset(raw []byte) int {
	if len(raw) < headerLen {
		return -1
	}
	pos := headerLen
	for pos+4 <= len(raw) {
		at := uint16(raw[pos])<<8 | uint16(raw[pos+1])
		alen := int(uint16(raw[pos+2])<<8 | uint16(raw[pos+3]))
		if AttrType(at) == AttrMessageIntegrity {
			return pos
		}
		pad := (4 - alen%4) % 4
		pos += 4 + alen + pad
	}
	return -1
}
