package build

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Vars are the values available to recipe arguments and copy destinations,
// for example "PREFIX={{.Prefix}}" or "{{.Dep.python.Prefix}}/bin/python".
type Vars struct {
	Name      string
	Version   string
	Prefix    string
	SourceDir string
	WorkDir   string
	Dep       map[string]DepVars
}

// DepVars describes one installed dependency.
type DepVars struct {
	Version string
	Prefix  string

	// Runtime marks a dependency that pins the build environment. Its bin
	// directory leads PATH.
	Runtime bool
}

// Expand applies text/template substitution to a single argument. Strings
// without an action are returned unchanged. Unknown keys are an error rather
// than silently expanding to "<no value>".
func Expand(arg string, vars Vars) (string, error) {
	if !strings.Contains(arg, "{{") {
		return arg, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Parse(arg)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", arg, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("expanding %q: %w", arg, err)
	}

	return buf.String(), nil
}

// ExpandAll expands every argument of a step.
func ExpandAll(argv []string, vars Vars) ([]string, error) {
	out := make([]string, len(argv))
	for i, a := range argv {
		s, err := Expand(a, vars)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}
