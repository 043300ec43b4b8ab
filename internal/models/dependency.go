// Package models defines the core data structures used throughout apkdb
// including dependencies, packages, changesets, and repositories.
package models

import (
	"fmt"
	"strings"
)

// Op is a version comparison operator in a dependency
type Op int

const (
	OpAny          Op = iota // no version constraint
	OpLess                   // <
	OpLessEqual              // <=
	OpEqual                  // =
	OpFuzzy                  // ~= (same version prefix)
	OpGreaterEqual           // >=
	OpGreater                // >
)

var opStrings = map[Op]string{
	OpAny:          "",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpEqual:        "=",
	OpFuzzy:        "~=",
	OpGreaterEqual: ">=",
	OpGreater:      ">",
}

// String returns the operator as written in a name spec
func (o Op) String() string {
	return opStrings[o]
}

// ParseOp converts an operator token into an Op. "~" is accepted as an alias of "~=".
func ParseOp(s string) (Op, bool) {
	switch s {
	case "<":
		return OpLess, true
	case "<=":
		return OpLessEqual, true
	case "=", "==":
		return OpEqual, true
	case "~", "~=":
		return OpFuzzy, true
	case ">=":
		return OpGreaterEqual, true
	case ">":
		return OpGreater, true
	}
	return OpAny, false
}

// Dependency is a named requirement on a package, optionally pinned to a
// repository tag and constrained by a version comparison.
type Dependency struct {
	Name     string `json:"name"`
	Tag      string `json:"tag,omitempty"`
	Op       Op     `json:"op,omitempty"`
	Version  string `json:"version,omitempty"`
	Conflict bool   `json:"conflict,omitempty"` // "!name": must not be installed
}

// Validate checks the structural invariants of a dependency
func (d Dependency) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dependency has no name")
	}
	if d.Op != OpAny && d.Version == "" {
		return fmt.Errorf("dependency %q: operator %q requires a version", d.Name, d.Op)
	}
	if d.Op == OpAny && d.Version != "" {
		return fmt.Errorf("dependency %q: version %q without operator", d.Name, d.Version)
	}
	return nil
}

// IsVersioned returns true if the dependency constrains the version
func (d Dependency) IsVersioned() bool {
	return d.Op != OpAny
}

// Unversioned returns a copy of the dependency with the version constraint dropped.
// The repository tag is kept.
func (d Dependency) Unversioned() Dependency {
	d.Op = OpAny
	d.Version = ""
	return d
}

// String formats the dependency in name-spec form: "!name@tag>=1.0"
func (d Dependency) String() string {
	var b strings.Builder
	if d.Conflict {
		b.WriteByte('!')
	}
	b.WriteString(d.Name)
	if d.Tag != "" {
		b.WriteByte('@')
		b.WriteString(d.Tag)
	}
	if d.Op != OpAny {
		b.WriteString(d.Op.String())
		b.WriteString(d.Version)
	}
	return b.String()
}

// ParseDependency parses the dependency grammar shared by name specs, the
// world file and index D:/p: fields: [!]name[@tag][op version].
func ParseDependency(s string) (Dependency, error) {
	var d Dependency
	if s == "" {
		return d, fmt.Errorf("empty dependency")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return d, fmt.Errorf("whitespace in dependency")
	}
	if s[0] == '!' {
		d.Conflict = true
		s = s[1:]
	}

	opAt := strings.IndexAny(s, "<>=~")
	head := s
	if opAt >= 0 {
		head = s[:opAt]
		rest := s[opAt:]
		n := 1
		if len(rest) > 1 && rest[1] == '=' {
			n = 2
		}
		op, ok := ParseOp(rest[:n])
		if !ok {
			return d, fmt.Errorf("unknown operator %q", rest[:n])
		}
		d.Op = op
		d.Version = rest[n:]
		if d.Version == "" {
			return d, fmt.Errorf("operator %q without version", rest[:n])
		}
		if strings.ContainsAny(d.Version, "<>=~@!") {
			return d, fmt.Errorf("invalid version %q", d.Version)
		}
	}

	if at := strings.IndexByte(head, '@'); at >= 0 {
		d.Tag = head[at+1:]
		head = head[:at]
		if d.Tag == "" {
			return d, fmt.Errorf("empty repository tag")
		}
		if strings.ContainsAny(d.Tag, "@!") {
			return d, fmt.Errorf("invalid repository tag %q", d.Tag)
		}
	}

	if head == "" {
		return d, fmt.Errorf("missing package name")
	}
	for _, c := range head {
		if !validNameRune(c) {
			return d, fmt.Errorf("invalid character %q in package name", c)
		}
	}
	d.Name = head
	return d, nil
}

func validNameRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.ContainsRune("+-_.:/", c)
}
