// Package options implements the slave loop's own encoding for the
// options blob it exchanges with the engine. The wire protocol treats
// options as an opaque length-prefixed blob (spec.md §9, "opaque
// payloads"); this package is the one place that blob is given meaning,
// so the slave loop can append the implicit masterid/timallow entries
// before handing the blob to the engine.
package options

import "strings"

// Append adds a key=value entry to an options blob, separating entries
// with a NUL byte. An empty blob starts a fresh list.
func Append(blob []byte, key, value string) []byte {
	entry := key + "=" + value
	if len(blob) == 0 {
		return []byte(entry)
	}
	out := make([]byte, 0, len(blob)+1+len(entry))
	out = append(out, blob...)
	out = append(out, 0)
	out = append(out, entry...)
	return out
}

// Get looks up the last entry matching key, mirroring how a later
// Append shadows an earlier one with the same key.
func Get(blob []byte, key string) (string, bool) {
	value, ok := "", false
	for _, entry := range strings.Split(string(blob), "\x00") {
		if entry == "" {
			continue
		}
		k, v, found := strings.Cut(entry, "=")
		if found && k == key {
			value, ok = v, true
		}
	}
	return value, ok
}
