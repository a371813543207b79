package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/speakdrill/speakdrill/pkg/history"
	"github.com/speakdrill/speakdrill/pkg/provider/embeddings"
	"github.com/speakdrill/speakdrill/pkg/provider/llm"
)

// PracticeItem is a question-bank entry returned by search_practice_items.
// The question bank itself lives behind the [ItemSearcher] collaborator.
type PracticeItem struct {
	ID           string `json:"id"`
	QuestionType string `json:"questionType"`
	Prompt       string `json:"prompt"`
	Difficulty   string `json:"difficulty,omitempty"`
}

// ItemSearcher finds practice items matching a free-text query.
type ItemSearcher interface {
	SearchItems(ctx context.Context, query string, limit int) ([]PracticeItem, error)
}

// GoalTracker records a learner's stated practice goals.
type GoalTracker interface {
	UpdateGoals(ctx context.Context, userID string, goals []string) error
}

// funcCapability adapts a plain function into a [Capability].
type funcCapability struct {
	def llm.ToolDefinition
	fn  func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (c *funcCapability) Definition() llm.ToolDefinition { return c.def }

func (c *funcCapability) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return c.fn(ctx, args)
}

// BuiltinDeps carries the collaborators the built-in capabilities call into.
// Store and Embeddings are required; Items and Goals may be nil, in which
// case the corresponding capability is not registered.
type BuiltinDeps struct {
	Store      history.Store
	Embeddings embeddings.Provider
	Items      ItemSearcher
	Goals      GoalTracker
}

// RegisterBuiltins registers the platform's built-in capabilities on d.
func RegisterBuiltins(d *Dispatcher, deps BuiltinDeps) {
	d.Register(fetchUserStatistics(deps.Store))
	d.Register(analyzeWeakAreas(deps.Store, deps.Embeddings))
	if deps.Items != nil {
		d.Register(searchPracticeItems(deps.Items))
	}
	if deps.Goals != nil {
		d.Register(updateGoals(deps.Goals))
	}
}

func fetchUserStatistics(store history.Store) Capability {
	return &funcCapability{
		def: llm.ToolDefinition{
			Name:        "fetch_user_statistics",
			Description: "Fetch a learner's practice statistics: submission counts, average scores overall and per question type, and when they last practised.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{
						"type":        "string",
						"description": "The learner's user ID.",
					},
				},
				"required": []string{"user_id"},
			},
		},
		fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				UserID string `json:"user_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if in.UserID == "" {
				return nil, fmt.Errorf("user_id is required")
			}
			stats, err := store.Stats(ctx, in.UserID)
			if err != nil {
				return nil, fmt.Errorf("fetch statistics: %w", err)
			}
			return json.Marshal(map[string]any{
				"submissions":         stats.Submissions,
				"reports":             stats.Reports,
				"averageScore":        stats.AverageScore,
				"scoreByQuestionType": stats.ScoreByQuestionType,
				"lastSubmittedAt":     stats.LastSubmittedAt,
			})
		},
	}
}

func searchPracticeItems(items ItemSearcher) Capability {
	return &funcCapability{
		def: llm.ToolDefinition{
			Name:        "search_practice_items",
			Description: "Search the question bank for practice items matching a topic or skill, for example 'opinion essay about technology'.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Free-text description of the desired practice item.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of items to return. Default 5.",
					},
				},
				"required": []string{"query"},
			},
		},
		fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if in.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			if in.Limit <= 0 {
				in.Limit = 5
			}
			found, err := items.SearchItems(ctx, in.Query, in.Limit)
			if err != nil {
				return nil, fmt.Errorf("search items: %w", err)
			}
			return json.Marshal(map[string]any{"items": found})
		},
	}
}

func updateGoals(goals GoalTracker) Capability {
	return &funcCapability{
		def: llm.ToolDefinition{
			Name:        "update_goals",
			Description: "Replace a learner's practice goals with a new list, for example after they describe what they want to work on.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{
						"type":        "string",
						"description": "The learner's user ID.",
					},
					"goals": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "The learner's goals, each a short phrase.",
					},
				},
				"required": []string{"user_id", "goals"},
			},
		},
		fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				UserID string   `json:"user_id"`
				Goals  []string `json:"goals"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if in.UserID == "" {
				return nil, fmt.Errorf("user_id is required")
			}
			if err := goals.UpdateGoals(ctx, in.UserID, in.Goals); err != nil {
				return nil, fmt.Errorf("update goals: %w", err)
			}
			return json.Marshal(map[string]any{"updated": len(in.Goals)})
		},
	}
}

// analyzeWeakAreas embeds the described difficulty, finds the learner's most
// similar past submissions, and reports the question types where their
// average score lags their overall average.
func analyzeWeakAreas(store history.Store, emb embeddings.Provider) Capability {
	return &funcCapability{
		def: llm.ToolDefinition{
			Name:        "analyze_weak_areas",
			Description: "Analyze where a learner struggles: finds their past submissions most similar to a described difficulty and the question types scoring below their personal average.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{
						"type":        "string",
						"description": "The learner's user ID.",
					},
					"topic": map[string]any{
						"type":        "string",
						"description": "Description of the skill or difficulty to analyze, for example 'linking words in essays'.",
					},
				},
				"required": []string{"user_id", "topic"},
			},
		},
		fn: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in struct {
				UserID string `json:"user_id"`
				Topic  string `json:"topic"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("decode args: %w", err)
			}
			if in.UserID == "" || in.Topic == "" {
				return nil, fmt.Errorf("user_id and topic are required")
			}

			vec, err := emb.Embed(ctx, in.Topic)
			if err != nil {
				return nil, fmt.Errorf("embed topic: %w", err)
			}
			similar, err := store.SearchSubmissions(ctx, vec, 5, history.SubmissionFilter{
				UserID: in.UserID,
			})
			if err != nil {
				return nil, fmt.Errorf("search submissions: %w", err)
			}
			stats, err := store.Stats(ctx, in.UserID)
			if err != nil {
				return nil, fmt.Errorf("fetch statistics: %w", err)
			}

			type weakArea struct {
				QuestionType string  `json:"questionType"`
				AverageScore float64 `json:"averageScore"`
			}
			var weak []weakArea
			for qt, score := range stats.ScoreByQuestionType {
				if score < stats.AverageScore {
					weak = append(weak, weakArea{QuestionType: qt, AverageScore: score})
				}
			}

			type match struct {
				SubmissionID string  `json:"submissionId"`
				QuestionType string  `json:"questionType"`
				Distance     float64 `json:"distance"`
			}
			matches := make([]match, 0, len(similar))
			for _, r := range similar {
				matches = append(matches, match{
					SubmissionID: r.Submission.ID,
					QuestionType: r.Submission.QuestionType,
					Distance:     r.Distance,
				})
			}

			return json.Marshal(map[string]any{
				"weakAreas":          weak,
				"similarSubmissions": matches,
				"averageScore":       stats.AverageScore,
			})
		},
	}
}
