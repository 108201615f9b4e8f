// Package relevance scores bills for Texas public health and local
// government relevance using keyword dictionaries.
package relevance

import "strings"

// HealthKeywords is the seed dictionary for public health relevance.
var HealthKeywords = []string{
	"public health", "health", "healthcare", "hospital", "clinic",
	"medicaid", "medicare", "disease", "epidemic", "pandemic",
	"vaccination", "immunization", "quarantine", "sanitation",
	"mental health", "substance abuse", "opioid", "maternal",
	"nutrition", "emergency medical", "epidemiology", "health department",
	"communicable", "mortality", "prenatal", "behavioral health",
}

// LocalGovKeywords is the seed dictionary for local government relevance.
var LocalGovKeywords = []string{
	"local government", "municipal", "municipality", "county", "city",
	"zoning", "ordinance", "property tax", "school district",
	"public works", "emergency management", "law enforcement",
	"fire department", "water district", "transit", "annexation",
	"utility", "permit", "code enforcement", "commissioners court",
	"appraisal district", "special district", "home rule", "extraterritorial",
}

// Scores holds the derived priority triple, each value in [0,100].
type Scores struct {
	PublicHealth int
	LocalGov     int
	Overall      int
}

// Scorer counts distinct keyword hits against its dictionaries. Both lists
// are configurable; the zero value is unusable, use NewScorer.
type Scorer struct {
	Health   []string
	LocalGov []string
}

// NewScorer returns a Scorer seeded with the default dictionaries.
func NewScorer() *Scorer {
	return &Scorer{Health: HealthKeywords, LocalGov: LocalGovKeywords}
}

// Score computes relevance for the combined title and description. Each
// distinct keyword hit is worth 10 points, capped at 100; overall is the
// integer mean of the two dimensions.
func (s *Scorer) Score(title, description string) Scores {
	text := strings.ToLower(title + " " + description)
	health := scoreDict(text, s.Health)
	local := scoreDict(text, s.LocalGov)
	return Scores{
		PublicHealth: health,
		LocalGov:     local,
		Overall:      (health + local) / 2,
	}
}

func scoreDict(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	score := hits * 10
	if score > 100 {
		score = 100
	}
	return score
}
