package appmanager

import (
	"unicode"
	"unicode/utf8"
)

// Limits of the contract.
const (
	// MaxBundleNameList is the largest observer allow-list accepted.
	MaxBundleNameList = 128
	// MaxBundleNameLength bounds a bundle identifier in bytes.
	MaxBundleNameLength = 128
	// MaxCloneIndex is the highest app clone index.
	MaxCloneIndex = 1000
)

// ValidateBundleName checks a bundle identifier argument.
func ValidateBundleName(op, name string) error {
	if name == "" {
		return InvalidParam(op, "bundle name is required")
	}
	if len(name) > MaxBundleNameLength {
		return InvalidParam(op, "bundle name exceeds %d bytes", MaxBundleNameLength)
	}
	if !utf8.ValidString(name) {
		return InvalidParam(op, "bundle name is not valid UTF-8")
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return InvalidParam(op, "bundle name %q contains whitespace or control characters", name)
		}
	}
	return nil
}

// NormalizeBundleList validates an observer allow-list and drops duplicates,
// keeping first-seen order.
func NormalizeBundleList(op string, names []string) ([]string, error) {
	if len(names) > MaxBundleNameList {
		return nil, InvalidParam(op, "bundle name list has %d entries, max is %d", len(names), MaxBundleNameList)
	}
	if len(names) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if err := ValidateBundleName(op, n); err != nil {
			return nil, err
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// CloneIndexInRange reports whether idx is inside [0, MaxCloneIndex].
func CloneIndexInRange(idx int32) bool {
	return idx >= 0 && idx <= MaxCloneIndex
}
