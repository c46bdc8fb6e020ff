package build

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultBasePath is appended to PATH after dependency bin directories when
// no base path is configured.
const DefaultBasePath = "/usr/local/bin:/usr/bin:/bin"

// EnvSpec controls which outside values reach a recipe.
type EnvSpec struct {
	// BasePath follows the dependency bin directories on PATH.
	BasePath string

	// PassEnv names process environment variables copied through verbatim.
	PassEnv []string
}

// Environment builds the complete environment of a recipe. Nothing is
// inherited from the calling process except the variables named in
// spec.PassEnv. Runtime dependencies come first on PATH, then the other
// dependencies; each group keeps the order given. FORMULA_RUNTIME lists the
// runtime pins as "name=version" pairs.
func Environment(spec EnvSpec, vars Vars, deps []string) []string {
	base := spec.BasePath
	if base == "" {
		base = DefaultBasePath
	}

	var runtimeDirs, otherDirs, pins []string
	for _, name := range deps {
		d, ok := vars.Dep[name]
		if !ok {
			continue
		}
		bin := filepath.Join(d.Prefix, "bin")
		if d.Runtime {
			runtimeDirs = append(runtimeDirs, bin)
			pins = append(pins, name+"="+d.Version)
		} else {
			otherDirs = append(otherDirs, bin)
		}
	}
	pathDirs := append(append(runtimeDirs, otherDirs...), base)

	env := map[string]string{
		"PATH":            strings.Join(pathDirs, string(os.PathListSeparator)),
		"HOME":            filepath.Join(vars.WorkDir, "home"),
		"TMPDIR":          filepath.Join(vars.WorkDir, "tmp"),
		"PREFIX":          vars.Prefix,
		"FORMULA_NAME":    vars.Name,
		"FORMULA_VERSION": vars.Version,
	}
	if len(pins) > 0 {
		env["FORMULA_RUNTIME"] = strings.Join(pins, " ")
	}
	for name, d := range vars.Dep {
		key := envName(name)
		env[key+"_ROOT"] = d.Prefix
		env[key+"_VERSION"] = d.Version
	}
	for _, key := range spec.PassEnv {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// envName turns a formula name into an environment variable stem:
// "python@2.7" becomes "PYTHON_2_7".
func envName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// lookupEnv returns the value of key in an environment list.
func lookupEnv(env []string, key string) string {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}
