package id

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Relationship creates a deterministic relationship id from its endpoints
// and type. The same triple always produces the same id, so repeated
// creation of an identical relationship is idempotent.
//
// ID Generation Algorithm:
//  1. Build canonical string: from|to|TYPE
//  2. SHA-256 hash the canonical string
//  3. Base64url encode first 12 bytes (no padding)
//  4. Return rel:{encoded}
//
// Example:
//
//	id.Relationship("A1", "A2", "USES_TECHNIQUE") // "rel:Zp4..."
func Relationship(from, to, relType string) string {
	canonical := fmt.Sprintf("%s|%s|%s", from, to, relType)
	hash := sha256.Sum256([]byte(canonical))
	return "rel:" + base64.RawURLEncoding.EncodeToString(hash[:12])
}

// TimeSuffixed creates a unique relationship id suffixed with the creation
// time. Repeated creation of the same triple yields distinct ids.
//
// Format: {from}_{TYPE}_{to}_{unixnano}_{8 hex chars}
func TimeSuffixed(from, to, relType string) string {
	return fmt.Sprintf("%s_%s_%s_%d_%s", from, relType, to, time.Now().UnixNano(), uuid.NewString()[:8])
}

// Node creates a deterministic node id for a named entity of the given
// label, used when materializing knowledge triplets. The name is normalized
// (lowercased, trimmed, inner whitespace collapsed) before hashing, so
// "Mimikatz" and " mimikatz " share an id.
//
// Format: {label}:{base64url(sha256(label:name)[:12])}
func Node(label, name string) string {
	canonical := fmt.Sprintf("%s:%s", strings.ToLower(label), normalizeName(name))
	hash := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%s:%s", label, base64.RawURLEncoding.EncodeToString(hash[:12]))
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

var nonTypeChars = regexp.MustCompile(`[^A-Z0-9_]+`)

// RelationshipType converts a free-form predicate ("uses technique",
// "part-of") to a valid relationship type ("USES_TECHNIQUE", "PART_OF").
// Returns "RELATED_TO" when nothing usable remains.
func RelationshipType(predicate string) string {
	t := nonTypeChars.ReplaceAllString(strings.ToUpper(strings.TrimSpace(predicate)), "_")
	t = strings.Trim(t, "_")
	if t == "" {
		return "RELATED_TO"
	}
	if t[0] >= '0' && t[0] <= '9' {
		t = "_" + t
	}
	return t
}
