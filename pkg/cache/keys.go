package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Keys are hierarchical and user-scoped (category:provider:userId:...) so
// prefix invalidation is well-defined. Qualifier segments longer than
// maxSegmentLen are replaced by a content hash to bound key size. AI keys
// are deliberately outside the per-user namespace: they are keyed by input
// content so identical inputs reuse cached output across invalidations.

const maxSegmentLen = 128

func EmailPageKey(provider, userID, folder string, page int) string {
	return fmt.Sprintf("emails:%s:%s:%s:page_%d", provider, userID, folder, page)
}

func EmailPagePrefix(provider, userID string) string {
	return fmt.Sprintf("emails:%s:%s:", provider, userID)
}

func ThreadKey(provider, userID, threadID string) string {
	return fmt.Sprintf("thread:%s:%s:%s", provider, userID, boundSegment(threadID))
}

func ThreadPrefix(provider, userID string) string {
	return fmt.Sprintf("thread:%s:%s:", provider, userID)
}

func StatsKey(provider, userID string) string {
	return fmt.Sprintf("stats:%s:%s", provider, userID)
}

func SearchKey(provider, userID, query string, page int) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(query))
	return fmt.Sprintf("search:%s:%s:%s:%d", provider, userID, boundSegment(encoded), page)
}

func SearchPrefix(provider, userID string) string {
	return fmt.Sprintf("search:%s:%s:", provider, userID)
}

func AISummaryKey(messageID, contentHash string) string {
	return fmt.Sprintf("ai:summary:%s:%s", messageID, contentHash)
}

func AIRepliesKey(messageID, contentHash, tone string) string {
	return fmt.Sprintf("ai:replies:%s:%s:%s", messageID, contentHash, tone)
}

// ContentHash hashes message content for AI result reuse across identical
// inputs.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// UserPrefixes lists the user-scoped listing prefixes (each ends with the
// segment separator, so user "42" never matches user "421"). The stats key
// is exact and handled separately; AI keys are intentionally excluded.
func UserPrefixes(provider, userID string) []string {
	return []string{
		EmailPagePrefix(provider, userID),
		ThreadPrefix(provider, userID),
		SearchPrefix(provider, userID),
	}
}

func boundSegment(segment string) string {
	if len(segment) <= maxSegmentLen {
		return segment
	}
	sum := sha256.Sum256([]byte(segment))
	return hex.EncodeToString(sum[:])
}
