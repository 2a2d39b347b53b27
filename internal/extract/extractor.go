// Package extract defines the entity extraction contract and a rule-based
// fallback used when no model-backed extractor is configured.
package extract

import (
	"regexp"
	"strings"
)

// Entity types form a closed set; extractors must normalize into it.
const (
	TypePerson       = "person"
	TypeOrganization = "organization"
	TypeLocation     = "location"
	TypeConcept      = "concept"
	TypeTool         = "tool"
)

// Entity is one extracted named entity.
type Entity struct {
	Name        string
	Type        string
	Description string
}

// Edge is a directed relation between two extracted entities.
type Edge struct {
	Source   string // entity name
	Target   string
	Relation string
	Type     string
	Strength float64
}

// Fact is a subject-predicate-object statement.
type Fact struct {
	Subject    string // entity name
	Predicate  string
	Object     string
	Type       string
	Confidence float64
}

// Extraction is the result of one Extract call.
type Extraction struct {
	Entities []Entity
	Edges    []Edge
	Facts    []Fact
}

// Extractor pulls entities, edges, and facts out of event content.
// Implementations perform no I/O beyond their own model call and return
// only entities actually present in the text.
type Extractor interface {
	Extract(text string) (*Extraction, error)
}

// NormalizeType maps free-form extractor labels into the closed set.
func NormalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "person", "per", "people", "human", "name":
		return TypePerson
	case "organization", "org", "company", "team", "group":
		return TypeOrganization
	case "location", "loc", "place", "city", "country", "gpe":
		return TypeLocation
	case "tool", "software", "product", "app", "library", "framework":
		return TypeTool
	default:
		return TypeConcept
	}
}

// RuleExtractor is the zero-dependency fallback: capitalized-phrase
// entities, "X is/works at/uses Y" relations. Model-backed extractors
// (GLiNER-style) plug in behind the same interface.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

var (
	properPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2}\b`)
	worksAt      = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\s+works?\s+(?:at|for)\s+([A-Z][A-Za-z]+(?:\s[A-Z][a-z]+)?)`)
	uses         = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\s+uses?\s+([A-Za-z][\w.-]+)`)
	isA          = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\s+is\s+(?:a|an|the)\s+([a-z][a-z\s]{2,40}?)[.,;]`)
	livesIn      = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\s+(?:lives?|is\s+based)\s+in\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
)

// stopwords that look like proper nouns at sentence starts.
var stopwords = map[string]bool{
	"The": true, "This": true, "That": true, "What": true, "When": true,
	"Where": true, "How": true, "Why": true, "Can": true, "Could": true,
	"Please": true, "Thanks": true, "Hello": true, "And": true, "But": true,
	"Yes": true, "No": true, "Also": true, "Now": true, "Then": true,
	"Actually": true, "Maybe": true, "Just": true, "Sorry": true,
}

func (x *RuleExtractor) Extract(text string) (*Extraction, error) {
	out := &Extraction{}
	seen := make(map[string]bool)

	addEntity := func(name, typ string) {
		name = strings.TrimSpace(name)
		if name == "" || stopwords[name] {
			return
		}
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out.Entities = append(out.Entities, Entity{Name: name, Type: NormalizeType(typ)})
	}

	for _, m := range worksAt.FindAllStringSubmatch(text, -1) {
		addEntity(m[1], TypePerson)
		addEntity(m[2], TypeOrganization)
		out.Edges = append(out.Edges, Edge{
			Source: m[1], Target: m[2], Relation: "works_at", Type: "employment", Strength: 0.8,
		})
	}
	for _, m := range livesIn.FindAllStringSubmatch(text, -1) {
		addEntity(m[1], TypePerson)
		addEntity(m[2], TypeLocation)
		out.Edges = append(out.Edges, Edge{
			Source: m[1], Target: m[2], Relation: "lives_in", Type: "residence", Strength: 0.8,
		})
	}
	for _, m := range uses.FindAllStringSubmatch(text, -1) {
		addEntity(m[1], TypePerson)
		addEntity(m[2], TypeTool)
		out.Edges = append(out.Edges, Edge{
			Source: m[1], Target: m[2], Relation: "uses", Type: "usage", Strength: 0.6,
		})
	}
	for _, m := range isA.FindAllStringSubmatch(text, -1) {
		addEntity(m[1], TypeConcept)
		out.Facts = append(out.Facts, Fact{
			Subject: m[1], Predicate: "is_a", Object: strings.TrimSpace(m[2]),
			Type: "attribute", Confidence: 0.6,
		})
	}

	// Remaining proper phrases become low-confidence concept entities.
	for _, m := range properPhrase.FindAllString(text, -1) {
		addEntity(m, TypeConcept)
	}

	return out, nil
}
