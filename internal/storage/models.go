package storage

import "time"

// Feedback is one helpful/unhelpful judgment. Rows are never mutated.
type Feedback struct {
	ID        int64          `json:"id"`
	Query     string         `json:"query"`
	DocID     string         `json:"doc_id"`
	IsHelpful bool           `json:"is_helpful"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DocScore holds the running counters for one document.
type DocScore struct {
	DocID          string `json:"doc_id"`
	HelpfulCount   int    `json:"helpful_count"`
	UnhelpfulCount int    `json:"unhelpful_count"`
}

// Total is the number of judgments behind the score.
func (d DocScore) Total() int { return d.HelpfulCount + d.UnhelpfulCount }

type FeedbackStats struct {
	TotalFeedback  int     `json:"total_feedback"`
	HelpfulCount   int     `json:"helpful_count"`
	UnhelpfulCount int     `json:"unhelpful_count"`
	HelpfulRatio   float64 `json:"helpful_ratio"`
}
