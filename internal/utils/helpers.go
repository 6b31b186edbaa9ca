package utils

import "strings"

// SliceToSet converts a slice of any comparable type to a set represented by a map[T]struct{}.
func SliceToSet[T comparable](slice []T) map[T]struct{} {
	set := make(map[T]struct{}, len(slice))
	for _, item := range slice {
		set[item] = struct{}{}
	}
	return set
}

// NormalizeVariant lowercases a hardware variant and drops separators so that
// "ESP32-S3" and "esp32s3" compare equal.
func NormalizeVariant(v string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(v))
}
