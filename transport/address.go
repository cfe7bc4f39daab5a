package transport

import "strings"

// splitAddr splits "scheme://rest" into its two parts.
func splitAddr(addr string) (scheme, rest string, ok bool) {
	i := strings.Index(addr, "://")
	if i < 0 {
		return "", "", false
	}
	return addr[:i], addr[i+3:], true
}
