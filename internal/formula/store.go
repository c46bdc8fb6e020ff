// Package formula holds parsed formula records and the read-only store the
// resolver consults.
package formula

import (
	"fmt"
	"sort"

	"github.com/bianoble/formulary/internal/errs"
)

// Store holds validated formula records keyed by name. It has no mutation
// API: records are loaded once and shared read-only for the process lifetime.
type Store struct {
	records map[string]Record
	names   []string
}

// NewStore validates records and builds a Store. Duplicate names and invalid
// records are reported together.
func NewStore(records ...Record) (*Store, error) {
	s := &Store{records: make(map[string]Record, len(records))}
	var problems []string
	for _, r := range records {
		if msgs := Validate(r); len(msgs) > 0 {
			problems = append(problems, msgs...)
			continue
		}
		if _, dup := s.records[r.Name]; dup {
			problems = append(problems, fmt.Sprintf("formula '%s': duplicate formula name", r.Name))
			continue
		}
		s.records[r.Name] = r.Clone()
		s.names = append(s.names, r.Name)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Errors: problems}
	}
	sort.Strings(s.names)
	return s, nil
}

// Get returns the record for name or a *errs.NotFoundError.
func (s *Store) Get(name string) (Record, error) {
	r, ok := s.records[name]
	if !ok {
		return Record{}, &errs.NotFoundError{Name: name}
	}
	return r.Clone(), nil
}

// All returns every record sorted by name.
func (s *Store) All() []Record {
	out := make([]Record, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.records[n].Clone())
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.names) }
