// Package ids provides the content-fingerprint hashes the repo uses to
// decide whether a mirrored object is stale, and the ULID generator used
// for every Roomy-side identifier the bridge mints.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ProfileHash fingerprints the fields of a Discord member profile that get
// mirrored into Roomy, so the profile sync service can skip a write when
// nothing it cares about changed.
func ProfileHash(username, nickname, avatarURL string) string {
	return hashParts(username, nickname, avatarURL)
}

// MessageContentHash fingerprints a message's editable fields, used to
// detect genuine edits versus Discord resending an unchanged message.
func MessageContentHash(content string, attachmentURLs []string) string {
	return hashParts(content, strings.Join(attachmentURLs, "\x1f"))
}

// SidebarHash fingerprints a space's room list ordering and names, used to
// decide whether the sidebar needs to be rewritten after a structural
// change.
func SidebarHash(names []string) string {
	return hashParts(names...)
}

func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
