package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	CategoryRepair       = "repair"
	CategoryRenovation   = "renovation"
	CategoryInstallation = "installation"
	CategoryGeneral      = "general"
)

const scoreEpsilon = 1e-9

// ScopeDetails is the structured scope block carried on a finalized bid card.
type ScopeDetails struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	SpecialRequirements []string `json:"special_requirements,omitempty"`
	AccessNotes         string   `json:"access_notes,omitempty"`
}

// ProjectSummary is the finalized project description produced upstream by
// the scoping agents. The embedding is computed once and cached alongside it.
type ProjectSummary struct {
	ProjectID    string       `json:"project_id"`
	HomeownerID  string       `json:"homeowner_id,omitempty"`
	Category     string       `json:"category"`
	JobType      string       `json:"job_type,omitempty"`
	BudgetRange  string       `json:"budget_range,omitempty"`
	Timeline     string       `json:"timeline,omitempty"`
	Scope        ScopeDetails `json:"scope"`
	ServiceAreas []string     `json:"service_areas,omitempty"`
	AIConfidence float64      `json:"ai_confidence,omitempty"`
	Embedding    []float32    `json:"embedding,omitempty"`
	Revision     int          `json:"revision"`
	Cancelled    bool         `json:"cancelled"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Candidate is a provider profile as returned by the candidate index.
type Candidate struct {
	ProviderID     string    `json:"provider_id"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Categories     []string  `json:"categories"`
	ServiceAreas   []string  `json:"service_areas"`
	Verified       bool      `json:"verified"`
	Rating         *float64  `json:"rating,omitempty"`
	Responsiveness float64   `json:"responsiveness"`
	FailedInvites  int       `json:"failed_invites"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ScoredCandidate pairs a candidate with its raw similarity to a project.
type ScoredCandidate struct {
	Candidate
	Similarity float64 `json:"similarity"`
}

type MatchEntry struct {
	ProviderID string  `json:"provider_id"`
	Similarity float64 `json:"similarity"`
	Composite  float64 `json:"composite"`
	Position   int     `json:"position"`
}

// MatchResult is one immutable ranking run. Re-triggering a project produces
// a new run id; an existing run is never rewritten.
type MatchResult struct {
	RankingRunID string       `json:"ranking_run_id"`
	ProjectID    string       `json:"project_id"`
	Revision     int          `json:"revision"`
	Entries      []MatchEntry `json:"entries"`
	ComputedAt   time.Time    `json:"computed_at"`
}

// RankingRunID derives the deterministic run id for a project revision, so a
// re-delivered trigger resolves to the same run instead of a new fan-out.
func RankingRunID(projectID string, revision int) string {
	return fmt.Sprintf("run-%s-r%d", projectID, revision)
}

type RankingWeights struct {
	Similarity     float64 `json:"similarity" yaml:"similarity"`
	Rating         float64 `json:"rating" yaml:"rating"`
	Verification   float64 `json:"verification" yaml:"verification"`
	Responsiveness float64 `json:"responsiveness" yaml:"responsiveness"`
}

func DefaultRankingWeights() RankingWeights {
	return RankingWeights{Similarity: 0.5, Rating: 0.2, Verification: 0.1, Responsiveness: 0.2}
}

// Validate rejects weight sets that do not sum to 1.0; scores would otherwise
// drift out of [0,1] and break threshold semantics downstream.
func (w RankingWeights) Validate() error {
	sum := w.Similarity + w.Rating + w.Verification + w.Responsiveness
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("ranking weights must sum to 1.0, got %.6f: %w", sum, ErrInvalidInput)
	}
	if w.Similarity < 0 || w.Rating < 0 || w.Verification < 0 || w.Responsiveness < 0 {
		return fmt.Errorf("ranking weights must be non-negative: %w", ErrInvalidInput)
	}
	return nil
}

// CompositeScore blends raw similarity with business signals. A missing
// rating contributes zero rather than an imputed average.
func CompositeScore(c Candidate, similarity float64, w RankingWeights) float64 {
	rating := 0.0
	if c.Rating != nil {
		rating = Clamp(0, *c.Rating, 5) / 5.0
	}
	verified := 0.0
	if c.Verified {
		verified = 1.0
	}
	responsiveness := Clamp(0, c.Responsiveness, 1)
	return w.Similarity*similarity + w.Rating*rating + w.Verification*verified + w.Responsiveness*responsiveness
}

// FilterByThreshold keeps candidates at or above the similarity threshold.
// The boundary is inclusive: a candidate exactly at the threshold qualifies.
func FilterByThreshold(in []ScoredCandidate, threshold float64) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(in))
	for _, c := range in {
		if c.Similarity >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// RankCandidates orders candidates by composite score with a fully
// deterministic tie-break chain: equal composites (within epsilon) fall back
// to higher raw similarity, then fewer historical failed invitations, then
// provider id. Output is capped at maxInvites and never padded.
func RankCandidates(candidates []ScoredCandidate, w RankingWeights, maxInvites int) []MatchEntry {
	type scored struct {
		c         ScoredCandidate
		composite float64
	}
	rows := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, scored{c: c, composite: CompositeScore(c.Candidate, c.Similarity, w)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if math.Abs(a.composite-b.composite) > scoreEpsilon {
			return a.composite > b.composite
		}
		if math.Abs(a.c.Similarity-b.c.Similarity) > scoreEpsilon {
			return a.c.Similarity > b.c.Similarity
		}
		if a.c.FailedInvites != b.c.FailedInvites {
			return a.c.FailedInvites < b.c.FailedInvites
		}
		return a.c.ProviderID < b.c.ProviderID
	})
	if maxInvites <= 0 {
		maxInvites = 10
	}
	if len(rows) > maxInvites {
		rows = rows[:maxInvites]
	}
	entries := make([]MatchEntry, 0, len(rows))
	for idx, row := range rows {
		entries = append(entries, MatchEntry{
			ProviderID: row.c.ProviderID,
			Similarity: row.c.Similarity,
			Composite:  row.composite,
			Position:   idx + 1,
		})
	}
	return entries
}

// CosineSimilarity computes cosine similarity on raw vectors, clamped to
// [0,1]. Dimensionality between project and provider embeddings is fixed;
// a mismatch is a data defect, not a low score.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrVectorDimMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return Clamp(0, dot/(math.Sqrt(normA)*math.Sqrt(normB)), 1), nil
}

func Clamp(min, v, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
