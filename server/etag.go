package server

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// etagWindow is how many leading bytes feed the fingerprint; the full length
// is mixed in so equal prefixes of different sizes still differ.
const etagWindow = 8192

// ETag returns the deterministic 16-hex fingerprint of a payload.
func ETag(data []byte) string {
	head := data
	if len(head) > etagWindow {
		head = head[:etagWindow]
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(head)^uint64(len(data)))
}

// etagMatches implements the If-None-Match comparison: each candidate is
// stripped of any weak prefix and quotes before the byte comparison; "*"
// matches anything.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Trim(candidate, `"`)
		if candidate == etag {
			return true
		}
	}
	return false
}
