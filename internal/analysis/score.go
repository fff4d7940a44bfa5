package analysis

import "fmt"

// DefaultThreshold is the relevance score at or above which a job is
// classified relevant when the user has not configured a threshold.
const DefaultThreshold = 50

// Score bands.
const (
	strongBand   = 70
	moderateBand = 50
)

// Recommendation summarizes a relevance verdict for one job.
type Recommendation struct {
	Score       int
	ShouldApply bool
	Reason      string
}

// BandScore maps a relevance score to a recommendation. Only strong
// matches are worth an application, and raising the threshold above the
// strong band tightens that further.
func BandScore(score, threshold int) Recommendation {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	rec := Recommendation{
		Score:       score,
		ShouldApply: score >= strongBand && score >= threshold,
	}
	switch {
	case score >= strongBand:
		rec.Reason = fmt.Sprintf("Strong match: this role aligns closely with your skills and experience (score %d/100).", score)
	case score >= moderateBand:
		rec.Reason = fmt.Sprintf("Moderate match: this role overlaps with parts of your profile (score %d/100).", score)
	default:
		rec.Reason = fmt.Sprintf("Weak match: this role has little overlap with your profile (score %d/100).", score)
	}
	return rec
}
