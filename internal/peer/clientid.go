package peer

import (
	"strings"
)

// clientName returns the client prefix of a peer id for display.
func clientName(id [20]byte) string {
	s := string(id[:])
	// Azureus style, BEP 20: -XX0000-
	if s[0] == '-' && s[7] == '-' {
		return s[1:7]
	}
	// Shadow style: a letter followed by the version.
	if i := strings.IndexAny(s, "-"); i > 0 && i < 6 {
		return s[:i]
	}
	return ""
}
