package generator

import "context"

// Synthesized is one externally synthesised candidate body.
type Synthesized struct {
	TemplateID string
	SourceText string
	Category   string
}

// Synthesizer is the external-LLM collaborator behind direct synthesis;
// prompt engineering for candidate synthesis is an explicit Non-goal, so
// this is kept to the narrow interface the pipeline actually consumes.
type Synthesizer interface {
	Synthesize(ctx context.Context) (*Synthesized, error)
}

// NoopSynthesizer is a Synthesizer that never produces candidates, the
// default when no external model is configured; direct synthesis then
// contributes nothing to the candidate stream without the Generator's main
// loop needing a special case.
type NoopSynthesizer struct{}

func (NoopSynthesizer) Synthesize(ctx context.Context) (*Synthesized, error) { return nil, nil }

// EvolutionaryRecombiner produces a new template body by recombining two
// existing ones. Recombination strategy is left to the implementation;
// the pipeline only needs the resulting body and a fresh template id.
type EvolutionaryRecombiner interface {
	Recombine(ctx context.Context, parentA, parentB string) (*Synthesized, error)
}

// PatternComposer produces a candidate body from a named market pattern
// (e.g. the original's Unger patterns); recovered as an extension point
// rather than a fully specified algorithm, since pattern-driven composition
// is named in spec §4.2 without a concrete algorithm.
type PatternComposer interface {
	Compose(ctx context.Context, patternName string) (*Synthesized, error)
}
