package formula

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bianoble/formulary/internal/digest"
	"github.com/bianoble/formulary/internal/version"
)

var (
	formulaValidate *validator.Validate
	namePattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9._+@-]*$`)
)

func init() {
	formulaValidate = validator.New()
	if err := formulaValidate.RegisterValidation("formulaname", validateName); err != nil {
		panic(fmt.Sprintf("registering formulaname validator: %v", err))
	}
}

func validateName(fl validator.FieldLevel) bool {
	return namePattern.MatchString(fl.Field().String())
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("formula validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Record for structural and semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(r Record) []string {
	prefix := "formula"
	if r.Name != "" {
		prefix = fmt.Sprintf("formula '%s'", r.Name)
	}

	var errs []string
	if err := formulaValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s: %s", prefix, describeFieldError(fe)))
			}
		} else {
			errs = append(errs, fmt.Sprintf("%s: %v", prefix, err))
		}
	}

	if r.SourceURL != "" {
		u, err := url.Parse(r.SourceURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("%s: invalid url '%s': %v", prefix, r.SourceURL, err))
		case u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file":
			errs = append(errs, fmt.Sprintf("%s: url scheme '%s' is not supported, use http, https or file", prefix, u.Scheme))
		}
	}

	if !r.Checksum.IsZero() {
		if want := digest.HexLen(r.Checksum.Algorithm); want != 0 && len(r.Checksum.Digest) != want {
			errs = append(errs, fmt.Sprintf("%s: %s digest must be %d hex characters", prefix, r.Checksum.Algorithm, want))
		}
	}

	seen := make(map[string]bool)
	for _, d := range r.Dependencies {
		if d.Name == "" {
			continue
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("%s: dependency '%s' declared more than once", prefix, d.Name))
		}
		seen[d.Name] = true
		if _, err := version.Parse(d.Constraint); err != nil {
			errs = append(errs, fmt.Sprintf("%s: dependency '%s': %v", prefix, d.Name, err))
		}
	}

	switch r.Recipe.Kind {
	case RecipeCommand:
		if len(r.Recipe.Steps) == 0 {
			errs = append(errs, fmt.Sprintf("%s: command recipe requires at least one step", prefix))
		}
		for i, step := range r.Recipe.Steps {
			if len(step) == 0 || strings.TrimSpace(step[0]) == "" {
				errs = append(errs, fmt.Sprintf("%s: recipe step %d has no program", prefix, i+1))
			}
		}
		if len(r.Recipe.Copy) > 0 {
			errs = append(errs, fmt.Sprintf("%s: command recipe must not declare 'copy' entries", prefix))
		}
	case RecipeCopy:
		if len(r.Recipe.Copy) == 0 {
			errs = append(errs, fmt.Sprintf("%s: copy recipe requires at least one entry", prefix))
		}
		if len(r.Recipe.Steps) > 0 {
			errs = append(errs, fmt.Sprintf("%s: copy recipe must not declare 'steps'", prefix))
		}
	}

	return errs
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Record.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "formulaname":
		return fmt.Sprintf("'%s' value '%v' is not a valid formula name", field, fe.Value())
	case "hexadecimal":
		return fmt.Sprintf("'%s' must be hexadecimal", field)
	}
	return fmt.Sprintf("'%s' failed '%s' check", field, fe.Tag())
}
