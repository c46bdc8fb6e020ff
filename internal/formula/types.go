package formula

import (
	"fmt"
	"strings"

	"github.com/bianoble/formulary/internal/digest"
)

// Record is a parsed formula: how to obtain, verify and build one package.
// Records are immutable once loaded; the Store hands out copies.
type Record struct {
	Name         string       `yaml:"name" toml:"name" validate:"required,formulaname"`
	Version      string       `yaml:"version" toml:"version" validate:"required"`
	Homepage     string       `yaml:"homepage,omitempty" toml:"homepage"`
	SourceURL    string       `yaml:"url" toml:"url" validate:"required"`
	Checksum     Checksum     `yaml:"checksum" toml:"checksum"`
	Dependencies []Dependency `yaml:"dependencies,omitempty" toml:"dependencies" validate:"dive"`
	Recipe       Recipe       `yaml:"recipe" toml:"recipe"`
}

// Dependency is one declared dependency. Runtime dependencies additionally
// pin the build environment (for example a specific interpreter).
type Dependency struct {
	Name       string `yaml:"name" toml:"name" validate:"required,formulaname"`
	Constraint string `yaml:"version,omitempty" toml:"version"`
	Runtime    bool   `yaml:"runtime,omitempty" toml:"runtime"`
}

// Checksum is a declared archive digest, written "algorithm:hex".
type Checksum struct {
	Algorithm string `validate:"required,oneof=sha256 sha1 sha512"`
	Digest    string `validate:"required,hexadecimal"`
}

// ParseChecksum parses "algorithm:hex". A bare 64-character digest is
// accepted as sha256.
func ParseChecksum(s string) (Checksum, error) {
	s = strings.TrimSpace(s)
	algo, sum, ok := strings.Cut(s, ":")
	if !ok {
		if len(s) == digest.HexLen(digest.SHA256) {
			return Checksum{Algorithm: digest.SHA256, Digest: strings.ToLower(s)}, nil
		}
		return Checksum{}, fmt.Errorf("invalid checksum format '%s', expected 'algorithm:hash' (e.g., 'sha256:abcdef...')", s)
	}
	algo = strings.ToLower(strings.TrimSpace(algo))
	sum = strings.ToLower(strings.TrimSpace(sum))
	if digest.HexLen(algo) == 0 {
		return Checksum{}, fmt.Errorf("unsupported checksum algorithm '%s', supported: sha256, sha1, sha512", algo)
	}
	if len(sum) != digest.HexLen(algo) {
		return Checksum{}, fmt.Errorf("%s digest must be %d hex characters, got %d", algo, digest.HexLen(algo), len(sum))
	}
	return Checksum{Algorithm: algo, Digest: sum}, nil
}

func (c Checksum) String() string {
	if c.Algorithm == "" {
		return ""
	}
	return c.Algorithm + ":" + c.Digest
}

// IsZero reports whether no checksum was declared.
func (c Checksum) IsZero() bool { return c.Algorithm == "" && c.Digest == "" }

// MarshalText implements encoding.TextMarshaler for YAML and TOML output.
func (c Checksum) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler for YAML and TOML input.
func (c *Checksum) UnmarshalText(b []byte) error {
	parsed, err := ParseChecksum(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// RecipeKind tags the Recipe variant.
type RecipeKind string

const (
	// RecipeCommand runs argv steps, typically an external build tool.
	RecipeCommand RecipeKind = "command"
	// RecipeCopy copies files from the source tree into the prefix.
	RecipeCopy RecipeKind = "copy"
)

// Recipe is the install recipe. Exactly one of Steps or Copy is used,
// selected by Kind.
type Recipe struct {
	Kind  RecipeKind  `yaml:"kind" toml:"kind" validate:"required,oneof=command copy"`
	Steps [][]string  `yaml:"steps,omitempty" toml:"steps"`
	Copy  []CopyEntry `yaml:"copy,omitempty" toml:"copy" validate:"dive"`
}

// CopyEntry copies files matching From (a glob relative to the source tree)
// into To (a directory relative to the prefix).
type CopyEntry struct {
	From string `yaml:"from" toml:"from" validate:"required"`
	To   string `yaml:"to" toml:"to"`
}

// Clone returns a deep copy so callers cannot mutate store-owned slices.
func (r Record) Clone() Record {
	out := r
	out.Dependencies = append([]Dependency(nil), r.Dependencies...)
	out.Recipe.Copy = append([]CopyEntry(nil), r.Recipe.Copy...)
	if r.Recipe.Steps != nil {
		out.Recipe.Steps = make([][]string, len(r.Recipe.Steps))
		for i, s := range r.Recipe.Steps {
			out.Recipe.Steps[i] = append([]string(nil), s...)
		}
	}
	return out
}

// RuntimeDependencies returns the dependencies flagged as runtime pins.
func (r Record) RuntimeDependencies() []Dependency {
	var out []Dependency
	for _, d := range r.Dependencies {
		if d.Runtime {
			out = append(out, d)
		}
	}
	return out
}

// String returns "name version".
func (r Record) String() string { return r.Name + " " + r.Version }
