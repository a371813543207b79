package scoring

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// GenericRubricType is the key of the fallback rubric applied when no
// type-specific rubric exists. Scoring never hard-fails on a missing rubric.
const GenericRubricType = "generic"

// Criterion is one weighted scoring dimension within a rubric.
type Criterion struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Weight      float64 `yaml:"weight"`
}

// Rubric is the grading document for one question type.
type Rubric struct {
	QuestionType string      `yaml:"questionType"`
	Title        string      `yaml:"title"`
	Criteria     []Criterion `yaml:"criteria"`
}

// Prompt renders the rubric as the grading brief embedded in the model's
// system prompt.
func (r Rubric) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rubric: %s\n", r.Title)
	fmt.Fprintf(&b, "Score every criterion and the overall result on a 0-%d scale.\n", MaxOverallScore)
	for _, c := range r.Criteria {
		fmt.Fprintf(&b, "- %s (weight %.2f): %s\n", c.Name, c.Weight, c.Description)
	}
	return b.String()
}

// rubricFile is the on-disk shape of a rubric document set.
type rubricFile struct {
	Rubrics []Rubric `yaml:"rubrics"`
}

// RubricSet is a read-only collection of rubrics keyed by question type.
// It is shared across concurrent scoring requests and never mutated after
// construction.
type RubricSet struct {
	byType  map[string]Rubric
	generic Rubric
}

// DefaultRubricSet returns a set containing only the built-in generic
// rubric. Deployments layer type-specific rubrics on top via LoadRubricSet.
func DefaultRubricSet() *RubricSet {
	return &RubricSet{
		byType:  map[string]Rubric{},
		generic: genericRubric,
	}
}

var genericRubric = Rubric{
	QuestionType: GenericRubricType,
	Title:        "General English Response",
	Criteria: []Criterion{
		{Name: "Task Completion", Description: "The response addresses the question fully and stays on topic.", Weight: 0.30},
		{Name: "Coherence", Description: "Ideas are organised logically and connected clearly.", Weight: 0.25},
		{Name: "Vocabulary", Description: "Word choice is accurate, varied, and appropriate in register.", Weight: 0.25},
		{Name: "Grammar", Description: "Grammatical structures are accurate and varied.", Weight: 0.20},
	},
}

// LoadRubricSet reads a rubric document set from a YAML file. Unknown fields
// are rejected. A rubric keyed GenericRubricType replaces the built-in
// fallback; otherwise the built-in one is kept.
func LoadRubricSet(path string) (*RubricSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scoring: read rubrics: %w", err)
	}
	return ParseRubricSet(data)
}

// ParseRubricSet parses a YAML rubric document set.
func ParseRubricSet(data []byte) (*RubricSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file rubricFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("scoring: parse rubrics: %w", err)
	}

	set := DefaultRubricSet()
	for i, r := range file.Rubrics {
		if r.QuestionType == "" {
			return nil, fmt.Errorf("scoring: rubric %d: questionType is required", i)
		}
		if len(r.Criteria) == 0 {
			return nil, fmt.Errorf("scoring: rubric %q: at least one criterion is required", r.QuestionType)
		}
		for _, c := range r.Criteria {
			if c.Name == "" || c.Weight <= 0 {
				return nil, fmt.Errorf("scoring: rubric %q: criterion needs a name and a positive weight", r.QuestionType)
			}
		}
		if _, dup := set.byType[r.QuestionType]; dup {
			return nil, fmt.Errorf("scoring: duplicate rubric for %q", r.QuestionType)
		}
		if r.QuestionType == GenericRubricType {
			set.generic = r
			continue
		}
		set.byType[r.QuestionType] = r
	}
	return set, nil
}

// For returns the rubric for questionType, falling back to the generic
// rubric when no type-specific one exists.
func (s *RubricSet) For(questionType string) Rubric {
	if r, ok := s.byType[questionType]; ok {
		return r
	}
	return s.generic
}
