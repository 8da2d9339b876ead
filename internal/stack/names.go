package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	maxCanaryNameLen = 21
	nameHashLen      = 7
)

// CanaryName derives a platform-valid canary name from the stack name and the
// logical ID: lowercase [0-9a-z_-], at most 21 characters, stable per input.
func CanaryName(stackName, logicalID string) string {
	sum := sha256.Sum256([]byte(stackName + "/" + logicalID))
	suffix := hex.EncodeToString(sum[:])[:nameHashLen]

	var base strings.Builder
	for _, r := range strings.ToLower(logicalID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			base.WriteRune(r)
		}
	}

	prefix := base.String()
	if limit := maxCanaryNameLen - nameHashLen - 1; len(prefix) > limit {
		prefix = prefix[:limit]
	}
	if prefix == "" {
		return "c" + suffix
	}
	return prefix + "-" + suffix
}
