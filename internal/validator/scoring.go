package validator

import "github.com/nao1215/proxyscan/internal/model"

// Layer weights for the overall score. Connectivity weighs most: a
// relay that cannot carry traffic is useless no matter how well it
// hides the caller.
const (
	WeightConnectivity = 0.25
	WeightPerformance  = 0.20
	WeightGeolocation  = 0.15
	WeightAnonymity    = 0.20
	WeightReliability  = 0.20
)

// OverallScore combines the five layer scores with the fixed weights.
func OverallScore(c *model.ComprehensiveResult) float64 {
	score := c.Connectivity.Score()*WeightConnectivity +
		c.Performance.Score()*WeightPerformance +
		c.Geolocation.Score()*WeightGeolocation +
		c.Anonymity.Score()*WeightAnonymity +
		c.Reliability.Score()*WeightReliability
	return clampScore(score)
}

// GradeFor maps an overall score to its letter grade.
func GradeFor(score float64) model.Grade {
	switch {
	case score >= 90:
		return model.GradeAPlus
	case score >= 80:
		return model.GradeA
	case score >= 70:
		return model.GradeBPlus
	case score >= 60:
		return model.GradeB
	case score >= 50:
		return model.GradeC
	default:
		return model.GradeF
	}
}

// RecommendationFor returns the fixed usage guidance for a grade.
func RecommendationFor(grade model.Grade) string {
	switch grade {
	case model.GradeAPlus:
		return "suitable for production workloads"
	case model.GradeA:
		return "suitable for commercial crawling"
	case model.GradeBPlus:
		return "suitable for general use"
	case model.GradeB:
		return "suitable for research and experiments"
	case model.GradeC:
		return "backup only; expect degraded service"
	default:
		return "unusable; do not route traffic through this relay"
	}
}
