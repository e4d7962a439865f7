package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Tier is a qualitative confidence level. Tiers order high > medium > low.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Canonical numeric scores for each tier. A numeric confidence maps back to
// the tier whose band it falls in: [70,100] high, [40,70) medium, [0,40) low.
const (
	scoreHigh   = 90
	scoreMedium = 60
	scoreLow    = 30

	bandHigh   = 70
	bandMedium = 40
)

// Confidence is a declared or derived trust level. Authors may write either
// a tier name or a number 0-100; both forms survive a round trip. The zero
// value means "not declared".
type Confidence struct {
	Score int  `json:"score"`
	// Label records that the author wrote a tier name rather than a number,
	// so serialization can reproduce the original form.
	Label Tier `json:"label,omitempty"`
	Set   bool `json:"set,omitempty"`
}

// ConfidenceFromTier returns the canonical confidence for a tier name.
func ConfidenceFromTier(t Tier) Confidence {
	return Confidence{Score: tierScore(t), Label: t, Set: true}
}

// ConfidenceFromScore returns a numeric confidence.
func ConfidenceFromScore(score int) Confidence {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Confidence{Score: score, Set: true}
}

// ParseConfidence accepts "high"/"medium"/"low" or an integer 0-100.
func ParseConfidence(raw string) (Confidence, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch Tier(s) {
	case TierHigh, TierMedium, TierLow:
		return ConfidenceFromTier(Tier(s)), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 100 {
		return Confidence{}, fmt.Errorf("confidence %q is not a tier name or 0-100", raw)
	}
	return ConfidenceFromScore(n), nil
}

// Tier maps the score into its qualitative band.
func (c Confidence) Tier() Tier {
	switch {
	case c.Score >= bandHigh:
		return TierHigh
	case c.Score >= bandMedium:
		return TierMedium
	default:
		return TierLow
	}
}

// Lower returns the confidence dropped by n tiers, flooring at low.
// Dropping lands on the canonical score of the resulting tier, so a
// numeric 85 (high band) dropped one tier becomes 60 (canonical medium).
func (c Confidence) Lower(n int) Confidence {
	t := c.Tier()
	for ; n > 0; n-- {
		switch t {
		case TierHigh:
			t = TierMedium
		case TierMedium:
			t = TierLow
		case TierLow:
			// Already at the floor.
		}
	}
	out := Confidence{Score: tierScore(t), Set: true}
	if out.Score > c.Score {
		// A drop never raises the score (e.g. numeric 45 in the medium
		// band dropped zero tiers must stay 45).
		out.Score = c.Score
	}
	if c.Label != "" {
		out.Label = t
	}
	return out
}

// Min returns the lower of two confidences. An unset confidence is treated
// as low, the conservative default for chains through undeclared artifacts.
func (c Confidence) Min(other Confidence) Confidence {
	a, b := c.orDefault(), other.orDefault()
	if b.Score < a.Score {
		return b
	}
	return a
}

func (c Confidence) orDefault() Confidence {
	if !c.Set {
		return Confidence{Score: scoreLow, Label: TierLow, Set: true}
	}
	return c
}

// String renders the form the author used: the tier name if one was
// declared, otherwise the numeric score.
func (c Confidence) String() string {
	if !c.Set {
		return ""
	}
	if c.Label != "" {
		return string(c.Label)
	}
	return strconv.Itoa(c.Score)
}

func tierScore(t Tier) int {
	switch t {
	case TierHigh:
		return scoreHigh
	case TierMedium:
		return scoreMedium
	default:
		return scoreLow
	}
}
