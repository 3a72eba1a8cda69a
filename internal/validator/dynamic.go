package validator

import (
	"fmt"

	"github.com/atlas-quant/strategy-pipeline/internal/pipelineerr"
	"github.com/atlas-quant/strategy-pipeline/internal/strategy"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
)

// DynamicCompile locates the strategy's template in the static registry and
// instantiates it with the candidate's parameters, the registration-based
// equivalent of "load the source into an isolated namespace, locate the
// strategy class, instantiate with default parameters" (spec §4.3.2).
func DynamicCompile(reg *strategy.Registry, s *types.Strategy) (strategy.Strategy, error) {
	if s.TemplateID == nil {
		return nil, pipelineerr.NewFatal("dynamic_compile", "missing template_id", nil)
	}
	inst, err := reg.Create(*s.TemplateID, s.Parameters)
	if err != nil {
		return nil, pipelineerr.NewFatal("dynamic_compile", fmt.Sprintf("instantiate failed: %v", err), err)
	}
	return inst, nil
}
