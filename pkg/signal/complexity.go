package signal

import "strings"

var technicalTerms = []string{
	"algorithm", "optimization", "derivative", "integral",
	"theorem", "proof", "hypothesis", "analysis", "synthesis",
	"complexity", "architecture", "implementation", "evaluation",
}

var (
	complexCues = []string{"why", "how", "explain", "analyze", "evaluate", "compare"}
	simpleCues  = []string{"what", "who", "when", "where", "define"}
)

// EstimateComplexity scores query text in [0,1] from its length, technical
// vocabulary, question type and number of questions. Callers use it when no
// upstream classifier supplied a complexity value.
func EstimateComplexity(query string) float64 {
	words := len(strings.Fields(query))
	lengthScore := minf(float64(words)/50.0, 1)

	lower := strings.ToLower(query)
	tech := 0
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			tech++
		}
	}
	techScore := minf(float64(tech)/3.0, 1)

	questionScore := 0.5
	switch {
	case containsAny(lower, complexCues):
		questionScore = 0.8
	case containsAny(lower, simpleCues):
		questionScore = 0.3
	}

	multi := 0.0
	if strings.Count(query, "?") > 1 {
		multi = 0.2
	}

	score := lengthScore*0.25 + techScore*0.35 + questionScore*0.30 + multi*0.10
	return unit(score)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
