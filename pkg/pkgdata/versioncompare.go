package pkgdata

import (
	"strconv"
	"strings"
)

// parsedVersion is a split "epoch:version-pkgrel" string.
type parsedVersion struct {
	epoch   string
	version string
	pkgrel  string
}

func parseVersion(s string) parsedVersion {
	var pv parsedVersion
	if idx := strings.Index(s, ":"); idx >= 0 {
		pv.epoch = s[:idx]
		s = s[idx+1:]
	} else {
		pv.epoch = "0"
	}
	if idx := strings.LastIndex(s, "-"); idx >= 0 {
		pv.version = s[:idx]
		pv.pkgrel = s[idx+1:]
	} else {
		pv.version = s
		pv.pkgrel = "0"
	}
	return pv
}

// CompareVersions implements pacman's alpm_pkg_vercmp ordering over
// "epoch:version-pkgrel" strings: epoch compares numerically first, then
// version and pkgrel compare segment-by-segment the way rpm/pacman do
// (alternating alphabetic and numeric runs, numeric runs compared as
// integers, a longer numeric run always outranking a shorter one, and a
// segment present beating one that is absent). Returns -1, 0, or 1.
func CompareVersions(a, b string) int {
	pa, pb := parseVersion(a), parseVersion(b)
	if c := compareSegment(pa.epoch, pb.epoch); c != 0 {
		return c
	}
	if c := compareSegment(pa.version, pb.version); c != 0 {
		return c
	}
	return compareSegment(pa.pkgrel, pb.pkgrel)
}

// compareSegment compares two rpm-style version segments.
func compareSegment(a, b string) int {
	if a == b {
		return 0
	}
	ar, br := splitAlnumRuns(a), splitAlnumRuns(b)
	n := len(ar)
	if len(br) < n {
		n = len(br)
	}
	for i := 0; i < n; i++ {
		ra, rb := ar[i], br[i]
		if ra.numeric && rb.numeric {
			if c := compareNumericRun(ra.text, rb.text); c != 0 {
				return c
			}
			continue
		}
		if ra.numeric != rb.numeric {
			// A numeric segment always outranks an alphabetic one.
			if ra.numeric {
				return 1
			}
			return -1
		}
		if ra.text != rb.text {
			if ra.text < rb.text {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ar) > len(br):
		return 1
	case len(ar) < len(br):
		return -1
	default:
		return 0
	}
}

type run struct {
	text    string
	numeric bool
}

func splitAlnumRuns(s string) []run {
	var runs []run
	i := 0
	isDigit := func(b byte) bool { return b >= '0' && b <= '9' }
	for i < len(s) {
		// skip separator characters not part of alnum runs
		for i < len(s) && !isAlnum(s[i]) {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		digit := isDigit(s[i])
		for i < len(s) && isAlnum(s[i]) && isDigit(s[i]) == digit {
			i++
		}
		runs = append(runs, run{text: s[start:i], numeric: digit})
	}
	return runs
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func compareNumericRun(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	if a == b {
		return 0
	}
	// Equal length, compare lexically (digits only, so this is numeric order).
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	if a < b {
		return -1
	}
	return 1
}
