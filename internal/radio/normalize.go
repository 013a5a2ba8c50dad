package radio

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatNodeNum renders a numeric node number in canonical id form,
// e.g. 0xa20a0de0 -> "!a20a0de0".
func FormatNodeNum(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// NormalizeNodeID canonicalizes a node identifier string: already-prefixed
// ids are lowercased as-is, bare hex of up to 8 digits is zero-padded and
// prefixed. Returns ok=false for anything unparseable. The function is
// idempotent: NormalizeNodeID of its own output returns the same string.
func NormalizeNodeID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}

	if strings.HasPrefix(id, "!") {
		return strings.ToLower(id), true
	}

	if len(id) > 8 {
		return "", false
	}
	num, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return "", false
	}
	return FormatNodeNum(uint32(num)), true
}

// ShortID strips the "!" prefix, as used in message ids and log paths.
func ShortID(id string) string {
	return strings.TrimPrefix(id, "!")
}
