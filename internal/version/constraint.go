// Package version parses formula versions and dependency constraints.
//
// Constraints are data: a bare version is a prefix match on the components it
// names ("2.7" accepts 2.7.0 and 2.7.18 but not 2.8), and explicit operators
// express ranges. Versions are compared with golang.org/x/mod/semver after
// normalising them to its "vMAJOR[.MINOR[.PATCH]]" form; versions that cannot be
// normalised only support equality.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Normalize converts a formula version ("0.9.4", "2.7", "v1.2.3-rc.1") into
// semver form. ok is false when the version is not semver-like.
func Normalize(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return v, true
}

// Compare orders two versions. Non-semver versions compare lexically.
func Compare(a, b string) int {
	na, okA := Normalize(a)
	nb, okB := Normalize(b)
	if okA && okB {
		return semver.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

type clause struct {
	op    string
	raw   string
	norm  string // normalized version, empty when raw is not semver-like
	parts int    // numeric components written in raw
}

// Constraint is a parsed, comma-separated set of clauses that must all hold.
type Constraint struct {
	raw     string
	clauses []clause
}

// Any matches every version.
var Any = Constraint{}

var operators = []string{">=", "<=", "==", "!=", ">", "<", "=", "~", "^"}

// Parse parses a constraint expression. The empty string and "*" match
// everything.
func Parse(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	c := Constraint{raw: s}
	if s == "" || s == "*" {
		return c, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Constraint{}, fmt.Errorf("invalid constraint '%s': empty clause", s)
		}
		cl := clause{}
		for _, op := range operators {
			if strings.HasPrefix(part, op) {
				cl.op = op
				part = strings.TrimSpace(part[len(op):])
				break
			}
		}
		if part == "" {
			return Constraint{}, fmt.Errorf("invalid constraint '%s': operator without version", s)
		}
		cl.raw = strings.TrimPrefix(part, "v")
		cl.norm, _ = Normalize(part)
		cl.parts = numericParts(cl.raw)
		if cl.norm == "" && cl.op != "" && cl.op != "=" && cl.op != "==" && cl.op != "!=" {
			return Constraint{}, fmt.Errorf("invalid constraint '%s': '%s' is not a comparable version", s, part)
		}
		c.clauses = append(c.clauses, cl)
	}
	return c, nil
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(s string) Constraint {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the constraint as written.
func (c Constraint) String() string { return c.raw }

// IsAny reports whether the constraint accepts every version.
func (c Constraint) IsAny() bool { return len(c.clauses) == 0 }

// Check reports whether v satisfies every clause.
func (c Constraint) Check(v string) bool {
	for _, cl := range c.clauses {
		if !cl.check(v) {
			return false
		}
	}
	return true
}

func (cl clause) check(v string) bool {
	nv, ok := Normalize(v)
	if !ok || cl.norm == "" {
		// Only equality is meaningful without semver ordering.
		eq := strings.TrimPrefix(v, "v") == cl.raw
		if cl.op == "!=" {
			return !eq
		}
		return eq
	}

	switch cl.op {
	case "":
		return prefixMatch(nv, cl.norm, cl.parts)
	case "=", "==":
		return semver.Compare(nv, cl.norm) == 0
	case "!=":
		return semver.Compare(nv, cl.norm) != 0
	case ">":
		return semver.Compare(nv, cl.norm) > 0
	case ">=":
		return semver.Compare(nv, cl.norm) >= 0
	case "<":
		return semver.Compare(nv, cl.norm) < 0
	case "<=":
		return semver.Compare(nv, cl.norm) <= 0
	case "~":
		upper := bump(cl.raw, minInt(cl.parts, 2))
		return semver.Compare(nv, cl.norm) >= 0 && semver.Compare(nv, upper) < 0
	case "^":
		level := 1
		if semver.Major(cl.norm) == "v0" && cl.parts > 1 {
			level = 2
		}
		upper := bump(cl.raw, level)
		return semver.Compare(nv, cl.norm) >= 0 && semver.Compare(nv, upper) < 0
	}
	return false
}

func prefixMatch(v, want string, parts int) bool {
	switch parts {
	case 1:
		return semver.Major(v) == semver.Major(want)
	case 2:
		return semver.MajorMinor(v) == semver.MajorMinor(want)
	}
	return semver.Compare(v, want) == 0
}

// bump increments the component at position level (1 = major, 2 = minor) and
// returns the normalized upper bound.
func bump(raw string, level int) string {
	nums := leadingNumbers(raw)
	for len(nums) < level {
		nums = append(nums, 0)
	}
	nums = nums[:level]
	nums[level-1]++
	strs := make([]string, len(nums))
	for i, n := range nums {
		strs[i] = strconv.Itoa(n)
	}
	return "v" + strings.Join(strs, ".")
}

func leadingNumbers(raw string) []int {
	core := raw
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	var nums []int
	for _, p := range strings.Split(core, ".") {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		nums = append(nums, n)
	}
	return nums
}

func numericParts(raw string) int {
	return len(leadingNumbers(raw))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
