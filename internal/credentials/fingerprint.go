package credentials

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// Fingerprint is a cheap, secret-free descriptor of an external credential
// source's current state. Two equal fingerprints mean the source has not
// changed and a full (possibly prompting) re-read can be skipped.
type Fingerprint struct {
	ModifiedAt  int64  `json:"modified_at,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
}

func (f Fingerprint) IsZero() bool {
	return f.ModifiedAt == 0 && f.CreatedAt == 0 && f.ContentHash == ""
}

func (f Fingerprint) Equal(other Fingerprint) bool {
	return f == other
}

// HashBytes returns a truncated sha256 hex digest (12 chars). Callers hash
// raw file or encrypted blob bytes, never a decoded secret.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:12]
}

// FileFingerprint describes a file's current state without decoding it.
// A missing file yields a zero fingerprint and no error.
func FileFingerprint(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fingerprint{}, nil
		}
		return Fingerprint{}, err
	}
	fp := Fingerprint{ModifiedAt: info.ModTime().UnixMilli()}
	data, err := os.ReadFile(path)
	if err != nil {
		// Stat succeeded but the file vanished or became unreadable.
		// ModifiedAt alone still detects most changes.
		return fp, nil
	}
	fp.ContentHash = HashBytes(data)
	return fp, nil
}
