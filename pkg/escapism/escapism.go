/*
Escaping compatible with https://github.com/minrk/escapism as used by kubespawner
for pod and volume names.
*/

package escapism

import (
	"encoding/hex"
	"strings"
)

const safeChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func escapeChar(c string, escape_char string) string {
	var b strings.Builder
	for _, octet := range []byte(c) {
		b.WriteString(escape_char)
		b.WriteString(hex.EncodeToString([]byte{octet}))
	}
	return b.String()
}

// Escape replaces every rune outside [a-z0-9] by '-' followed by the hex of each of its utf-8 bytes.
func Escape(input string) string {
	var b strings.Builder
	for _, char := range input {
		if strings.ContainsRune(safeChars, char) {
			b.WriteRune(char)
		} else {
			b.WriteString(escapeChar(string(char), "-"))
		}
	}
	return b.String()
}

// PodName is the kubespawner default pod name for a user's (named) server.
func PodName(user string, server string) string {
	name := "jupyter-" + Escape(user)
	if server != "" {
		name += "-" + Escape(server)
	}
	return name
}
