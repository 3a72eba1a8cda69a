package generator

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// tunableParamPlaceholder matches Jinja-style `{{ param_name }}` template
// placeholders; BaseCodeHash strips those naming a tunable parameter in
// strippedParamNames: SL/TP/leverage/time-exit values vary per parametric
// variant but must not perturb the shared fingerprint.
var tunableParamPlaceholder = regexp.MustCompile(`\{\{\s*[a-zA-Z_][a-zA-Z0-9_]*\s*\}\}`)

var strippedParamNames = map[string]bool{
	"stop_loss_pct": true, "take_profit_pct": true, "leverage": true,
	"exit_after_bars": true, "sl_atr_mult": true, "tp_atr_mult": true,
	"sl_rr_mult": true, "trailing_activation_pct": true,
}

// BaseCodeHash computes the fingerprint shared by every parametric variant
// of templateBody: tunable placeholders are stripped before hashing so
// substituting SL/TP/leverage/time-exit values does not change the hash.
func BaseCodeHash(templateBody string) string {
	stripped := tunableParamPlaceholder.ReplaceAllStringFunc(templateBody, func(ph string) string {
		if strippedParamNames[strings.Trim(ph, "{} \t\n")] {
			return ""
		}
		return ph
	})
	normalized := strings.Join(strings.Fields(stripped), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ParameterHash fingerprints a concrete parameter assignment so the
// parametric-expansion cross product can be deduplicated across racing
// generator workers, independent of map iteration order.
func ParameterHash(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatFloat(params[k]))
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
