package generator

// ParamGrid is a finite grid of candidate values per tunable parameter,
// Jinja-style placeholders substituted with every point of the product.
type ParamGrid map[string][]float64

// Expand enumerates the full cross-product of grid. It does not
// deduplicate; callers pass its output through Dedupe, which filters by
// ParameterHash (spec §8 round-trip law).
func Expand(grid ParamGrid) []map[string]float64 {
	if len(grid) == 0 {
		return []map[string]float64{{}}
	}
	keys := make([]string, 0, len(grid))
	for k := range grid {
		keys = append(keys, k)
	}

	var out []map[string]float64
	var recurse func(i int, current map[string]float64)
	recurse = func(i int, current map[string]float64) {
		if i == len(keys) {
			cp := make(map[string]float64, len(current))
			for k, v := range current {
				cp[k] = v
			}
			out = append(out, cp)
			return
		}
		k := keys[i]
		for _, v := range grid[k] {
			current[k] = v
			recurse(i+1, current)
		}
		delete(current, k)
	}
	recurse(0, map[string]float64{})
	return out
}

// Dedupe filters combos to those whose parameter hash has not already been
// seen, recording newly seen hashes into seen.
func Dedupe(combos []map[string]float64, seen map[string]bool) []map[string]float64 {
	var out []map[string]float64
	for _, c := range combos {
		h := ParameterHash(c)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, c)
	}
	return out
}
