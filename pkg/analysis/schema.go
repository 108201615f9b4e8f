// Package analysis turns bill documents into schema-constrained impact
// analyses: preprocessing, token-budgeted chunking, model calls, merge,
// caching, and versioned persistence.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// InsufficientTextMarker is the sentinel the model returns in summary when
// the document carries too little content to analyze.
const InsufficientTextMarker = "INSUFFICIENT_TEXT_FOR_ANALYSIS"

// KeyPoint is one notable point with its direction of impact.
type KeyPoint struct {
	Point      string `json:"point"`
	ImpactType string `json:"impact_type"`
}

// PublicHealthImpacts groups health-related findings.
type PublicHealthImpacts struct {
	DirectEffects         []string `json:"direct_effects"`
	IndirectEffects       []string `json:"indirect_effects"`
	FundingImpact         []string `json:"funding_impact"`
	VulnerablePopulations []string `json:"vulnerable_populations"`
}

// LocalGovernmentImpacts groups municipal and county findings.
type LocalGovernmentImpacts struct {
	Administrative []string `json:"administrative"`
	Fiscal         []string `json:"fiscal"`
	Implementation []string `json:"implementation"`
}

// EconomicImpacts groups cost and benefit findings.
type EconomicImpacts struct {
	DirectCosts     []string `json:"direct_costs"`
	EconomicEffects []string `json:"economic_effects"`
	Benefits        []string `json:"benefits"`
	LongTermImpact  []string `json:"long_term_impact"`
}

// ImpactSummary is the headline classification of a bill.
type ImpactSummary struct {
	PrimaryCategory  string `json:"primary_category"`
	ImpactLevel      string `json:"impact_level"`
	RelevanceToTexas string `json:"relevance_to_texas"`
}

// Result is the full analysis object the model returns. Field names and
// enums are contractual; RawPayload persistence stores this verbatim.
type Result struct {
	Summary                string                 `json:"summary"`
	KeyPoints              []KeyPoint             `json:"key_points"`
	PublicHealthImpacts    PublicHealthImpacts    `json:"public_health_impacts"`
	LocalGovernmentImpacts LocalGovernmentImpacts `json:"local_government_impacts"`
	EconomicImpacts        EconomicImpacts        `json:"economic_impacts"`
	EnvironmentalImpacts   []string               `json:"environmental_impacts"`
	EducationImpacts       []string               `json:"education_impacts"`
	InfrastructureImpacts  []string               `json:"infrastructure_impacts"`
	RecommendedActions     []string               `json:"recommended_actions"`
	ImmediateActions       []string               `json:"immediate_actions"`
	ResourceNeeds          []string               `json:"resource_needs"`
	ImpactSummary          ImpactSummary          `json:"impact_summary"`
}

// SchemaJSON is the response schema sent to the model and used to validate
// what comes back.
const SchemaJSON = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "key_points": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "point": {"type": "string"},
          "impact_type": {"type": "string", "enum": ["positive", "negative", "neutral"]}
        },
        "required": ["point", "impact_type"]
      }
    },
    "public_health_impacts": {
      "type": "object",
      "properties": {
        "direct_effects": {"type": "array", "items": {"type": "string"}},
        "indirect_effects": {"type": "array", "items": {"type": "string"}},
        "funding_impact": {"type": "array", "items": {"type": "string"}},
        "vulnerable_populations": {"type": "array", "items": {"type": "string"}}
      }
    },
    "local_government_impacts": {
      "type": "object",
      "properties": {
        "administrative": {"type": "array", "items": {"type": "string"}},
        "fiscal": {"type": "array", "items": {"type": "string"}},
        "implementation": {"type": "array", "items": {"type": "string"}}
      }
    },
    "economic_impacts": {
      "type": "object",
      "properties": {
        "direct_costs": {"type": "array", "items": {"type": "string"}},
        "economic_effects": {"type": "array", "items": {"type": "string"}},
        "benefits": {"type": "array", "items": {"type": "string"}},
        "long_term_impact": {"type": "array", "items": {"type": "string"}}
      }
    },
    "environmental_impacts": {"type": "array", "items": {"type": "string"}},
    "education_impacts": {"type": "array", "items": {"type": "string"}},
    "infrastructure_impacts": {"type": "array", "items": {"type": "string"}},
    "recommended_actions": {"type": "array", "items": {"type": "string"}},
    "immediate_actions": {"type": "array", "items": {"type": "string"}},
    "resource_needs": {"type": "array", "items": {"type": "string"}},
    "impact_summary": {
      "type": "object",
      "properties": {
        "primary_category": {
          "type": "string",
          "enum": ["public_health", "local_gov", "economic", "environmental", "education", "infrastructure"]
        },
        "impact_level": {
          "type": "string",
          "enum": ["low", "moderate", "high", "critical"]
        },
        "relevance_to_texas": {
          "type": "string",
          "enum": ["low", "moderate", "high"]
        }
      },
      "required": ["primary_category", "impact_level", "relevance_to_texas"]
    }
  },
  "required": ["summary", "impact_summary"]
}`

var compiledSchema = jsonschema.MustCompileString("analysis.schema.json", SchemaJSON)

// ParseResult validates the raw model object against the schema and decodes
// it into a Result.
func ParseResult(obj map[string]any) (*Result, error) {
	if err := compiledSchema.Validate(obj); err != nil {
		return nil, fmt.Errorf("analysis: schema validation: %w", err)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("analysis: re-encode: %w", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("analysis: decode: %w", err)
	}
	return &res, nil
}

// InsufficientSummary is the fixed summary recorded when a bill's text is
// too sparse to analyze. The exact wording is contractual.
const InsufficientSummary = "Insufficient text available for detailed analysis."

// InsufficientResult is the canonical template recorded when a bill's text
// is too sparse to analyze.
func InsufficientResult(billNumber string) *Result {
	point := "Bill text is unavailable or too short for analysis"
	if label := strings.TrimSpace(billNumber); label != "" {
		point = fmt.Sprintf("Text for %s is unavailable or too short for analysis", label)
	}
	return &Result{
		Summary: InsufficientSummary,
		KeyPoints: []KeyPoint{
			{Point: point, ImpactType: "neutral"},
		},
		ImpactSummary: ImpactSummary{
			PrimaryCategory:  "public_health",
			ImpactLevel:      "low",
			RelevanceToTexas: "low",
		},
	}
}

// severityRank orders impact levels; higher is more severe.
func severityRank(level string) int {
	switch level {
	case "critical":
		return 4
	case "high":
		return 3
	case "moderate":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}
