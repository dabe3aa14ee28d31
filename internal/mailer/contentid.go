package mailer

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Addresser derives content ids from attachment bytes.
type Addresser struct {
	newHash  func() hash.Hash
	fallback func() string
}

// NewAddresser returns an Addresser using SHA-256.
func NewAddresser() *Addresser {
	return &Addresser{newHash: sha256.New, fallback: randomToken}
}

var defaultAddresser = NewAddresser()

// ContentID returns the lowercase hex SHA-256 digest of data.
func ContentID(data []byte) string {
	return defaultAddresser.ID(data)
}

// ID returns the content id of data. If hashing fails it returns a random
// 32-character token instead, so the attachment still gets a unique id.
func (a *Addresser) ID(data []byte) string {
	h := a.newHash()
	if _, err := h.Write(data); err != nil {
		slog.Warn("content hashing failed, using random content id", "error", err)
		return a.fallback()
	}
	sum := h.Sum(nil)
	if len(sum) != h.Size() || len(sum) == 0 {
		slog.Warn("content hashing produced an unexpected digest, using random content id", "size", len(sum))
		return a.fallback()
	}
	return hex.EncodeToString(sum)
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
