package analysis

import (
	"fmt"
	"strings"
)

const (
	maxSummaryChars    = 2000
	maxKeyPoints       = 15
	maxBucketItems     = 8
	maxFlatItems       = 10
	maxRecommended     = 8
	maxImmediateNeeds  = 5
)

// MergeMeta carries the bill context a merged analysis belongs to.
type MergeMeta struct {
	Title          string
	BillNumber     string
	ChunksAnalyzed int
}

// Merge folds the per-chunk analyses into one. Order matters: earlier
// chunks win dedup ties and list positions, and the headline impact summary
// comes from the most severe chunk (earliest on ties). Returns nil when the
// input holds no analyses.
func Merge(parts []*Result, meta MergeMeta) *Result {
	valid := parts[:0:0]
	for _, p := range parts {
		if p != nil {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	if len(valid) == 1 {
		return valid[0]
	}

	out := &Result{}

	summaries := make([]string, 0, len(valid))
	for _, p := range valid {
		if s := strings.TrimSpace(p.Summary); s != "" {
			summaries = append(summaries, s)
		}
	}
	out.Summary = truncate(strings.Join(summaries, " "), maxSummaryChars)
	if out.Summary == "" {
		out.Summary = fallbackSummary(meta)
	}

	seen := map[string]bool{}
	for _, p := range valid {
		for _, kp := range p.KeyPoints {
			if len(out.KeyPoints) >= maxKeyPoints {
				break
			}
			if kp.Point == "" || seen[kp.Point] {
				continue
			}
			seen[kp.Point] = true
			out.KeyPoints = append(out.KeyPoints, kp)
		}
	}

	out.PublicHealthImpacts = PublicHealthImpacts{
		DirectEffects:         mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.PublicHealthImpacts.DirectEffects }),
		IndirectEffects:       mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.PublicHealthImpacts.IndirectEffects }),
		FundingImpact:         mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.PublicHealthImpacts.FundingImpact }),
		VulnerablePopulations: mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.PublicHealthImpacts.VulnerablePopulations }),
	}
	out.LocalGovernmentImpacts = LocalGovernmentImpacts{
		Administrative: mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.LocalGovernmentImpacts.Administrative }),
		Fiscal:         mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.LocalGovernmentImpacts.Fiscal }),
		Implementation: mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.LocalGovernmentImpacts.Implementation }),
	}
	out.EconomicImpacts = EconomicImpacts{
		DirectCosts:     mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.EconomicImpacts.DirectCosts }),
		EconomicEffects: mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.EconomicImpacts.EconomicEffects }),
		Benefits:        mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.EconomicImpacts.Benefits }),
		LongTermImpact:  mergeLists(valid, maxBucketItems, func(r *Result) []string { return r.EconomicImpacts.LongTermImpact }),
	}

	out.EnvironmentalImpacts = mergeLists(valid, maxFlatItems, func(r *Result) []string { return r.EnvironmentalImpacts })
	out.EducationImpacts = mergeLists(valid, maxFlatItems, func(r *Result) []string { return r.EducationImpacts })
	out.InfrastructureImpacts = mergeLists(valid, maxFlatItems, func(r *Result) []string { return r.InfrastructureImpacts })

	out.RecommendedActions = mergeLists(valid, maxRecommended, func(r *Result) []string { return r.RecommendedActions })
	out.ImmediateActions = mergeLists(valid, maxImmediateNeeds, func(r *Result) []string { return r.ImmediateActions })
	out.ResourceNeeds = mergeLists(valid, maxImmediateNeeds, func(r *Result) []string { return r.ResourceNeeds })

	best := valid[0].ImpactSummary
	for _, p := range valid[1:] {
		if severityRank(p.ImpactSummary.ImpactLevel) > severityRank(best.ImpactLevel) {
			best = p.ImpactSummary
		}
	}
	out.ImpactSummary = best

	return out
}

// fallbackSummary covers the degenerate case where no chunk carried a
// summary; the bill context keeps the merged record identifiable.
func fallbackSummary(meta MergeMeta) string {
	label := strings.TrimSpace(meta.BillNumber)
	if label == "" {
		label = strings.TrimSpace(meta.Title)
	}
	if label == "" {
		return ""
	}
	return fmt.Sprintf("Combined analysis of %s assembled from %d document sections.",
		label, meta.ChunksAnalyzed)
}

// mergeLists unions one list field across chunks preserving first
// occurrence order, capped.
func mergeLists(parts []*Result, limit int, get func(*Result) []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range parts {
		for _, item := range get(p) {
			if len(out) >= limit {
				return out
			}
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
