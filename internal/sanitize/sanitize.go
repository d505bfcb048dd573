// Package sanitize turns user supplied VM names into names Proxmox accepts
// (lowercase letters, digits and '-', starting with an alphanumeric).
package sanitize

import "strings"

// MaxNameLength is the default length limit, matching a DNS label.
const MaxNameLength = 63

// VMName sanitizes raw with the default length limit.
func VMName(raw string) string {
	return VMNameMax(raw, MaxNameLength)
}

// VMNameMax normalizes raw into a hypervisor-legal name of at most maxLen bytes.
//
// An empty input yields "" and callers must treat it as a validation failure.
// A non-empty input with no usable characters yields "vm-".
func VMNameMax(raw string, maxLen int) string {
	if raw == "" {
		return ""
	}

	lowered := strings.ToLower(strings.TrimSpace(raw))

	var b strings.Builder
	b.Grow(len(lowered))
	lastDash := false
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		// everything else, including '-', becomes a single dash
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}

	s := strings.Trim(b.String(), "-")
	if s == "" || !isAlnum(s[0]) {
		s = "vm-" + s
	}

	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}
	return s
}

// Changed reports whether sanitizing altered the name the user typed,
// ignoring surrounding whitespace.
func Changed(raw, sanitized string) bool {
	return sanitized != strings.TrimSpace(raw)
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
