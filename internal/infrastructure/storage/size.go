package storage

import "unicode/utf8"

// EstimateBytes approximates the UTF-16 storage footprint of s.
func EstimateBytes(s string) int64 {
	var units int64
	for _, r := range s {
		if r == utf8.RuneError {
			units++
			continue
		}
		if r > 0xFFFF {
			units += 2
			continue
		}
		units++
	}
	return units * 2
}

func entryBytes(key string, value string) int64 {
	return EstimateBytes(key) + EstimateBytes(value)
}
