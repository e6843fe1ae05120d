package util

import "strings"

// SplitUserID splits a Matrix user ID of the form "@localpart:server" into its
// localpart and server name. ok is false if id is not well-formed.
func SplitUserID(id string) (localpart, server string, ok bool) {
	if !strings.HasPrefix(id, "@") {
		return "", "", false
	}
	rest := id[1:]
	idx := strings.IndexByte(rest, ':')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
