package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// HashQuery produces a stable cache key for a user query, ignoring
// leading/trailing whitespace and letter case.
func HashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := md5.Sum([]byte(normalized))
	return fmt.Sprintf("%x", hash)
}
