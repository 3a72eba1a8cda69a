package generator

import "fmt"

// SourceKind identifies which sub-source produced a candidate, each with
// its own name prefix.
type SourceKind string

const (
	SourceDirectSynthesis SourceKind = "direct_synthesis"
	SourceParametric      SourceKind = "parametric"
	SourceEvolutionary    SourceKind = "evolutionary"
	SourcePatternDriven   SourceKind = "pattern_driven"
)

// namePrefix maps a sub-source to its unique-name prefix.
func namePrefix(kind SourceKind) string {
	switch kind {
	case SourceDirectSynthesis:
		return "Strategy_"
	case SourceParametric:
		return "PGnStrat_"
	case SourceEvolutionary:
		return "PGgStrat_"
	case SourcePatternDriven:
		return "PatStrat_"
	default:
		return "UngStrat_"
	}
}

// UniqueName builds a candidate's unique name from its source, template and
// a disambiguating suffix (typically the parameter hash or a sequence
// number), e.g. "PGnStrat_momentum_rsi_a1b2c3d4e5f6a7b8".
func UniqueName(kind SourceKind, templateID, suffix string) string {
	return fmt.Sprintf("%s%s_%s", namePrefix(kind), templateID, suffix)
}
