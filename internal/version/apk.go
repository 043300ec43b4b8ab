package version

import (
	"strconv"
	"strings"
)

// APK orders versions the way apk-tools does:
// digits{.digits}[letter]{_suffix[N]}[-rN]. Pre-release suffixes
// (alpha, beta, pre, rc) sort before the bare version, post-release suffixes
// (cvs, svn, git, hg, p) after it. Strings that do not parse are compared lexically.
type APK struct{}

var suffixRank = map[string]int{
	"alpha": -4,
	"beta":  -3,
	"pre":   -2,
	"rc":    -1,
	"cvs":   1,
	"svn":   2,
	"git":   3,
	"hg":    4,
	"p":     5,
}

type suffix struct {
	rank int
	num  uint64
}

type parsed struct {
	numbers  []string
	letter   byte
	suffixes []suffix
	revision uint64
}

// Compare implements Comparator.
func (APK) Compare(a, b string) int {
	if a == b {
		return 0
	}
	pa, okA := parse(a)
	pb, okB := parse(b)
	if !okA || !okB {
		return sign(strings.Compare(a, b))
	}

	for i := 0; i < len(pa.numbers) && i < len(pb.numbers); i++ {
		if c := compareComponent(pa.numbers[i], pb.numbers[i], i == 0); c != 0 {
			return c
		}
	}
	if c := sign(len(pa.numbers) - len(pb.numbers)); c != 0 {
		return c
	}

	if c := sign(int(pa.letter) - int(pb.letter)); c != 0 {
		return c
	}

	n := len(pa.suffixes)
	if len(pb.suffixes) > n {
		n = len(pb.suffixes)
	}
	for i := 0; i < n; i++ {
		sa, sb := suffix{}, suffix{}
		if i < len(pa.suffixes) {
			sa = pa.suffixes[i]
		}
		if i < len(pb.suffixes) {
			sb = pb.suffixes[i]
		}
		if c := sign(sa.rank - sb.rank); c != 0 {
			return c
		}
		if c := compareUint(sa.num, sb.num); c != 0 {
			return c
		}
	}

	return compareUint(pa.revision, pb.revision)
}

// Valid reports whether v is a well-formed apk version.
func (APK) Valid(v string) bool {
	_, ok := parse(v)
	return ok
}

func parse(v string) (parsed, bool) {
	var p parsed
	if v == "" || !isDigit(v[0]) {
		return p, false
	}

	if i := strings.LastIndex(v, "-r"); i >= 0 {
		rev, err := strconv.ParseUint(v[i+2:], 10, 64)
		if err != nil {
			return p, false
		}
		p.revision = rev
		v = v[:i]
	}

	rest := v
	if i := strings.IndexByte(v, '_'); i >= 0 {
		rest = v[:i]
		for _, s := range strings.Split(v[i+1:], "_") {
			j := 0
			for j < len(s) && !isDigit(s[j]) {
				j++
			}
			rank, ok := suffixRank[s[:j]]
			if !ok {
				return p, false
			}
			var num uint64
			if j < len(s) {
				n, err := strconv.ParseUint(s[j:], 10, 64)
				if err != nil {
					return p, false
				}
				num = n
			}
			p.suffixes = append(p.suffixes, suffix{rank: rank, num: num})
		}
	}

	if n := len(rest); n > 0 && rest[n-1] >= 'a' && rest[n-1] <= 'z' {
		p.letter = rest[n-1]
		rest = rest[:n-1]
	}

	for _, part := range strings.Split(rest, ".") {
		if part == "" {
			return p, false
		}
		for i := 0; i < len(part); i++ {
			if !isDigit(part[i]) {
				return p, false
			}
		}
		p.numbers = append(p.numbers, part)
	}
	return p, true
}

// compareComponent compares numeric components. Components after the first
// with a leading zero compare as strings, matching apk's fractional handling.
func compareComponent(a, b string, first bool) int {
	if !first && (strings.HasPrefix(a, "0") || strings.HasPrefix(b, "0")) {
		return sign(strings.Compare(a, b))
	}
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := sign(len(a) - len(b)); c != 0 {
		return c
	}
	return sign(strings.Compare(a, b))
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
