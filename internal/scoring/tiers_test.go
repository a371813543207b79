package scoring_test

import (
	"testing"

	"github.com/speakdrill/speakdrill/internal/scoring"
)

// ─── TestTierFor_Defaults ────────────────────────────────────────────────────

func TestTierFor_Defaults(t *testing.T) {
	t.Parallel()

	router := scoring.NewTierRouter(nil)

	cases := []struct {
		questionType string
		want         scoring.Tier
	}{
		{"essay", scoring.TierAdvanced},
		{"lecture_summary", scoring.TierAdvanced},
		{"read_aloud_full", scoring.TierAdvanced},
		{"read_aloud", scoring.TierStandard},
		{"sentence_completion", scoring.TierStandard},
		{"", scoring.TierStandard},
	}
	for _, tc := range cases {
		if got := router.TierFor(tc.questionType); got != tc.want {
			t.Errorf("TierFor(%q): want %s, got %s", tc.questionType, tc.want, got)
		}
	}
}

// ─── TestTierFor_OverridesAndDeterminism ─────────────────────────────────────

func TestTierFor_OverridesAndDeterminism(t *testing.T) {
	t.Parallel()

	router := scoring.NewTierRouter(map[string]scoring.Tier{
		"essay":      scoring.TierStandard, // demote
		"read_aloud": scoring.TierAdvanced, // promote
	})

	if got := router.TierFor("essay"); got != scoring.TierStandard {
		t.Errorf("override demotion: got %s", got)
	}
	if got := router.TierFor("read_aloud"); got != scoring.TierAdvanced {
		t.Errorf("override promotion: got %s", got)
	}

	// Routing is a pure function of the question type.
	for range 10 {
		if got := router.TierFor("essay"); got != scoring.TierStandard {
			t.Fatalf("routing not deterministic: got %s", got)
		}
	}
}
