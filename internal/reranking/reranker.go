// Package reranking blends vector similarity with feedback-derived scores and
// query-specific rules into a deterministic ranking.
package reranking

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/scout/internal/apperr"
	"github.com/kalambet/scout/internal/retrieval"
	"github.com/kalambet/scout/internal/storage"
)

// DefaultZ is the normal quantile for a 95% Wilson interval.
const DefaultZ = 1.96

// neutralFeedback is the feedback score of a document nobody has judged.
const neutralFeedback = 0.5

// Weights controls the similarity/feedback blend.
type Weights struct {
	Semantic float64
	Feedback float64
}

// DefaultWeights returns the 0.7/0.3 blend.
func DefaultWeights() Weights { return Weights{Semantic: 0.7, Feedback: 0.3} }

// CandidateSource returns the n documents nearest to a query.
type CandidateSource interface {
	Candidates(ctx context.Context, query string, n int) ([]retrieval.Candidate, error)
}

// ScoreSource returns feedback counters keyed by doc id. Missing ids may be
// omitted or zero-valued.
type ScoreSource interface {
	Scores(ctx context.Context, docIDs []string) (map[string]storage.DocScore, error)
}

// Ranked is a document with every score that went into its position.
type Ranked struct {
	Document      retrieval.Document
	Distance      float32
	Similarity    float64
	FeedbackScore float64
	Relevance     float64
}

// MarshalJSON flattens the contractor fields next to the scores and doc_id,
// so clients can send feedback against doc_id directly.
func (r Ranked) MarshalJSON() ([]byte, error) {
	m := r.Document.Contractor.Map()
	m["doc_id"] = r.Document.DocID()
	m["url"] = r.Document.SourceURL
	m["distance"] = r.Distance
	m["similarity_score"] = r.Similarity
	m["feedback_score"] = r.FeedbackScore
	m["relevance_score"] = r.Relevance
	return json.Marshal(m)
}

// Ranker produces the final ordering for a query.
type Ranker struct {
	candidates CandidateSource
	scores     ScoreSource
	weights    Weights
	z          float64
	rules      []Rule
	logger     *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithWeights overrides the blend weights.
func WithWeights(w Weights) Option { return func(r *Ranker) { r.weights = w } }

// WithConfidence overrides the Wilson z value.
func WithConfidence(z float64) Option { return func(r *Ranker) { r.z = z } }

// WithRules replaces the rule list. Rules run in slice order.
func WithRules(rules ...Rule) Option { return func(r *Ranker) { r.rules = rules } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Ranker) { r.logger = l } }

// New creates a Ranker with default weights, z and rules.
func New(candidates CandidateSource, scores ScoreSource, opts ...Option) *Ranker {
	r := &Ranker{
		candidates: candidates,
		scores:     scores,
		weights:    DefaultWeights(),
		z:          DefaultZ,
		rules:      DefaultRules(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "ranker")
	return r
}

// Rank returns at most topK documents for query. It over-fetches 2*topK
// candidates so feedback and rules have room to reorder.
func (r *Ranker) Rank(ctx context.Context, query string, topK int) ([]Ranked, error) {
	const op = "ranking.rank"
	if topK <= 0 {
		return nil, nil
	}

	cands, err := r.candidates.Candidates(ctx, query, 2*topK)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Document.DocID()
	}
	scores, err := r.scores.Scores(ctx, ids)
	if err != nil {
		return nil, apperr.E(apperr.KindRetrieval, op, err)
	}

	ranked := r.Score(query, cands, scores)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	r.logger.Debug("ranked", "query", query, "candidates", len(cands), "returned", len(ranked))
	return ranked, nil
}

// Score computes relevance for every candidate and sorts the result. It is
// pure: identical inputs give identical output.
func (r *Ranker) Score(query string, cands []retrieval.Candidate, scores map[string]storage.DocScore) []Ranked {
	q := strings.ToLower(query)
	out := make([]Ranked, len(cands))
	for i, c := range cands {
		ds := scores[c.Document.DocID()]
		sim := Similarity(c.Distance)
		fb := WilsonLowerBound(ds.HelpfulCount, ds.UnhelpfulCount, r.z)
		rel := r.weights.Semantic*sim + r.weights.Feedback*fb
		for _, rule := range r.rules {
			rel = rule.Apply(q, c.Document, rel)
		}
		out[i] = Ranked{
			Document:      c.Document,
			Distance:      c.Distance,
			Similarity:    sim,
			FeedbackScore: fb,
			Relevance:     rel,
		}
	}
	sortRanked(out)
	return out
}

// sortRanked orders by relevance desc, then similarity desc, then doc id asc.
func sortRanked(rs []Ranked) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.Document.ID < b.Document.ID
	})
}

// Similarity maps a squared L2 distance to (0, 1]. Identical vectors score 1
// and the score strictly decreases as distance grows.
func Similarity(distance float32) float64 {
	d := float64(distance)
	if d < 0 || math.IsNaN(d) {
		d = 0
	}
	return 1 / (1 + d)
}

// WilsonLowerBound is the lower bound of the Wilson score interval for
// helpful/(helpful+unhelpful). It returns 0.5 when there are no judgments.
func WilsonLowerBound(helpful, unhelpful int, z float64) float64 {
	n := float64(helpful + unhelpful)
	if n <= 0 {
		return neutralFeedback
	}
	p := float64(helpful) / n
	z2 := z * z
	lb := (p + z2/(2*n) - z*math.Sqrt((p*(1-p)+z2/(4*n))/n)) / (1 + z2/n)
	return math.Min(1, math.Max(0, lb))
}
