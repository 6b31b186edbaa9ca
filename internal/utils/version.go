package utils

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a numeric major.minor.patch triple.
type Version struct {
	Major, Minor, Patch uint64
}

// StripVersionPrefix removes a leading "v" or "V" from a release tag.
func StripVersionPrefix(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 0 && (v[0] == 'v' || v[0] == 'V') {
		return v[1:]
	}
	return v
}

// ParseVersion parses a version string. Missing components default to zero
// and anything after the numeric part of a component is ignored, so "1.2"
// yields 1.2.0 and "1.4.0-rc1" yields 1.4.0.
func ParseVersion(v string) Version {
	v = StripVersionPrefix(v)
	if sv, err := semver.NewVersion(v); err == nil {
		return Version{Major: sv.Major(), Minor: sv.Minor(), Patch: sv.Patch()}
	}

	var parsed Version
	parts := strings.SplitN(v, ".", 3)
	fields := []*uint64{&parsed.Major, &parsed.Minor, &parsed.Patch}
	for i, part := range parts {
		n, ok := leadingNumber(part)
		if !ok {
			break
		}
		*fields[i] = n
	}
	return parsed
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpUint(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpUint(v.Minor, o.Minor)
	default:
		return cmpUint(v.Patch, o.Patch)
	}
}

func (v Version) String() string {
	return strconv.FormatUint(v.Major, 10) + "." + strconv.FormatUint(v.Minor, 10) + "." + strconv.FormatUint(v.Patch, 10)
}

// IsNewerVersion reports whether latest is strictly greater than current.
func IsNewerVersion(latest, current string) bool {
	return ParseVersion(latest).Compare(ParseVersion(current)) > 0
}

func leadingNumber(s string) (uint64, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func cmpUint(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
