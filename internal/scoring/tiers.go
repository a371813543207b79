package scoring

// Tier selects which model backend grades a submission.
type Tier string

const (
	// TierStandard is the cheaper backend for short or simple question
	// types.
	TierStandard Tier = "standard"

	// TierAdvanced is the higher-capability backend for long-form question
	// types.
	TierAdvanced Tier = "advanced"
)

// defaultAdvancedTypes are the question types routed to TierAdvanced when no
// override is configured: long-form writing and full-length speaking tasks.
var defaultAdvancedTypes = map[string]struct{}{
	"essay":           {},
	"lecture_summary": {},
	"read_aloud_full": {},
}

// TierRouter maps question types to model tiers. Routing is a pure function
// of the question type: the same input always yields the same tier.
type TierRouter struct {
	overrides map[string]Tier
}

// NewTierRouter builds a router with per-type overrides layered over the
// built-in defaults. A nil map keeps the defaults as-is.
func NewTierRouter(overrides map[string]Tier) *TierRouter {
	r := &TierRouter{overrides: make(map[string]Tier, len(overrides))}
	for qt, tier := range overrides {
		r.overrides[qt] = tier
	}
	return r
}

// TierFor returns the tier for questionType.
func (r *TierRouter) TierFor(questionType string) Tier {
	if tier, ok := r.overrides[questionType]; ok {
		return tier
	}
	if _, ok := defaultAdvancedTypes[questionType]; ok {
		return TierAdvanced
	}
	return TierStandard
}
