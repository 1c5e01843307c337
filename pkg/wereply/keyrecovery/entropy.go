package keyrecovery

import "encoding/hex"

// Byte windows below these unique-byte counts are too regular to be key
// material; padding, counters and text all fall under them.
const (
	fullKeyWindow     = 32
	fullKeyThreshold  = 12
	shortKeyWindow    = 16
	shortKeyThreshold = 6
)

// KeyCandidates extracts plausible key material from an opaque blob:
// every 32-byte window that clears the entropy threshold, then every
// 16-byte window. Duplicates are dropped, first occurrence wins.
func KeyCandidates(blob []byte) [][]byte {
	var all [][]byte
	all = append(all, extractWindows(blob, fullKeyWindow, fullKeyThreshold)...)
	all = append(all, extractWindows(blob, shortKeyWindow, shortKeyThreshold)...)

	seen := make(map[string]struct{}, len(all))
	deduped := all[:0]
	for _, key := range all {
		id := hex.EncodeToString(key)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, key)
	}
	return deduped
}

func extractWindows(blob []byte, size, threshold int) [][]byte {
	if len(blob) < size {
		return nil
	}
	var out [][]byte
	for start := 0; start+size <= len(blob); start++ {
		window := blob[start : start+size]
		if uniqueBytes(window) < threshold {
			continue
		}
		out = append(out, append([]byte(nil), window...))
	}
	return out
}

func uniqueBytes(data []byte) int {
	var seen [256]bool
	count := 0
	for _, b := range data {
		if !seen[b] {
			seen[b] = true
			count++
		}
	}
	return count
}
