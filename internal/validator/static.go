// Package validator implements the Validator role's fixed phase sequence
// over GENERATED rows: static checks, dynamic compile/instantiate,
// synthetic-data smoke test, shuffle/robustness test, and an optional
// multi-window stability probe.
package validator

import (
	"regexp"

	"github.com/atlas-quant/strategy-pipeline/internal/pipelineerr"
)

// lookAheadPatterns catches the source-language idioms the spec calls out
// by name: centred windows, negative shifts on price columns, and direct
// future-indexed access.
var lookAheadPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.rolling\([^)]*center\s*=\s*True`),
	regexp.MustCompile(`\.shift\(\s*-\d+\s*\)`),
	regexp.MustCompile(`\.iloc\[\s*\w*\s*\+\s*\d+\s*\]`),
	regexp.MustCompile(`\[i\s*\+\s*1\s*:?\s*\]`),
}

// StaticCheck parses nothing more than a regex sweep over the candidate's
// source text: a statically-registered Go strategy has already "parsed and
// inherited from the base class" by virtue of implementing the strategy
// interface, so this phase's remaining job is rejecting look-ahead idioms
// that may have been copied into source_text by a synthesis sub-source.
func StaticCheck(sourceText string) error {
	for _, p := range lookAheadPatterns {
		if p.MatchString(sourceText) {
			return pipelineerr.NewFatal("static_checks", "look_ahead_pattern: "+p.String(), nil)
		}
	}
	return nil
}
