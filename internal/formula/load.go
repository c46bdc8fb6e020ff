package formula

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// fileDoc is the multi-formula layout: a top-level "formulas" list.
type fileDoc struct {
	Formulas []Record `yaml:"formulas" toml:"formulas"`
}

// LoadFile reads one formula file. YAML (.yaml, .yml) and TOML (.toml) files
// may hold either a single formula or a "formulas" list.
func LoadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading formula file %s: %w", path, err)
	}

	var records []Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		records, err = decodeYAML(data)
	case ".toml":
		records, err = decodeTOML(data)
	default:
		return nil, fmt.Errorf("formula file %s: unsupported extension, use .yaml, .yml or .toml", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing formula file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("formula file %s: no formulas defined", path)
	}
	return records, nil
}

func decodeYAML(data []byte) ([]Record, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Formulas) > 0 {
		return doc.Formulas, nil
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.Name == "" && len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return []Record{r}, nil
}

func decodeTOML(data []byte) ([]Record, error) {
	var doc fileDoc
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, err
	}
	if len(doc.Formulas) > 0 {
		return doc.Formulas, nil
	}
	var r Record
	if _, err := toml.Decode(string(data), &r); err != nil {
		return nil, err
	}
	if r.Name == "" && len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return []Record{r}, nil
}

// LoadDirs reads every formula file in dirs (non-recursive, sorted by path)
// and builds a Store. Missing directories are skipped.
func LoadDirs(dirs ...string) (*Store, error) {
	var all []Record
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading formula directory %s: %w", dir, err)
		}

		var paths []string
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".yaml", ".yml", ".toml":
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(paths)

		for _, p := range paths {
			records, err := LoadFile(p)
			if err != nil {
				return nil, err
			}
			all = append(all, records...)
		}
	}
	return NewStore(all...)
}
