package config

import "fmt"

// Merge combines two configs where overlay takes precedence over base:
//   - version: must agree if both declare it (non-zero); fatal error on mismatch
//   - scalar fields: overlay wins when set
//   - formula_dirs, build.pass_env: concatenated (base first), duplicates dropped
//   - build.keep_on_failure: enabled if any layer enables it
func Merge(base, overlay *Config) (*Config, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := &Config{}

	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	result.FormulaDirs = mergeList(base.FormulaDirs, overlay.FormulaDirs)
	result.Prefix = pick(base.Prefix, overlay.Prefix)
	result.CacheDir = pick(base.CacheDir, overlay.CacheDir)
	result.WorkDir = pick(base.WorkDir, overlay.WorkDir)

	result.Ledger.Backend = pick(base.Ledger.Backend, overlay.Ledger.Backend)
	result.Ledger.Path = pick(base.Ledger.Path, overlay.Ledger.Path)

	result.Fetch.Timeout = pick(base.Fetch.Timeout, overlay.Fetch.Timeout)
	result.Fetch.MaxAttempts = pick(base.Fetch.MaxAttempts, overlay.Fetch.MaxAttempts)
	result.Fetch.InitialBackoff = pick(base.Fetch.InitialBackoff, overlay.Fetch.InitialBackoff)
	result.Fetch.MaxSize = pick(base.Fetch.MaxSize, overlay.Fetch.MaxSize)
	result.Fetch.Parallelism = pick(base.Fetch.Parallelism, overlay.Fetch.Parallelism)
	result.Fetch.RateLimit = pick(base.Fetch.RateLimit, overlay.Fetch.RateLimit)

	result.Build.Timeout = pick(base.Build.Timeout, overlay.Build.Timeout)
	result.Build.KeepOnFailure = base.Build.KeepOnFailure || overlay.Build.KeepOnFailure
	result.Build.BasePath = pick(base.Build.BasePath, overlay.Build.BasePath)
	result.Build.PassEnv = mergeList(base.Build.PassEnv, overlay.Build.PassEnv)

	return result, nil
}

// MergeAll merges multiple configs in order (lowest precedence first).
// Returns an error if any version mismatch is found.
func MergeAll(configs []*Config) (*Config, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	result := configs[0]
	for i := 1; i < len(configs); i++ {
		var err error
		result, err = Merge(result, configs[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0:
		*out = overlay
	case overlay == 0, base == overlay:
		*out = base
	default:
		return fmt.Errorf("config version mismatch: one layer declares version %d, another declares version %d; all config layers must agree on version", base, overlay)
	}
	return nil
}

func pick[T comparable](base, overlay T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

func mergeList(base, overlay []string) []string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(base)+len(overlay))
	out := make([]string, 0, len(base)+len(overlay))
	for _, s := range append(append([]string(nil), base...), overlay...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
