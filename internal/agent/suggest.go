package agent

import (
	"fmt"
	"math"
	"time"

	"github.com/kalambet/scout/internal/retrieval"
)

// Suggestion types.
const (
	TypeHighActivity    = "high_activity"
	TypeFollowUp        = "follow_up"
	TypeRegularFollowUp = "regular_follow_up"
)

// Suggestion is a recommended next contact with a contractor.
type Suggestion struct {
	Contractor    string            `json:"contractor"`
	Type          string            `json:"type"`
	Action        string            `json:"action"`
	Reason        string            `json:"reason"`
	SuggestedDate string            `json:"suggested_date"`
	Priority      string            `json:"priority"`
	Details       SuggestionDetails `json:"details"`
}

type SuggestionDetails struct {
	ActivityScore   *float64 `json:"activity_score,omitempty"`
	LastContactDays int      `json:"last_contact_days"`
	ContactMethod   string   `json:"contact_method"`
	ContactInfo     string   `json:"contact_info"`
}

// Classify turns one document and its signal into a suggestion. It is pure.
func Classify(doc retrieval.Document, sig Signal, now time.Time) Suggestion {
	s := Suggestion{Contractor: doc.Contractor.Name}
	var lo, hi int
	switch {
	case sig.Activity > 0.8:
		s.Type, s.Action, s.Priority = TypeHighActivity, "contact", "high"
		s.Reason = "recent high activity"
		score := math.Round(sig.Activity*100) / 100
		s.Details.ActivityScore = &score
		lo, hi = 1, 3
	case sig.DaysSinceContact > 14:
		s.Type, s.Action, s.Priority = TypeFollowUp, "follow_up", "medium"
		s.Reason = fmt.Sprintf("no contact for %d days", sig.DaysSinceContact)
		lo, hi = 1, 7
	default:
		s.Type, s.Action, s.Priority = TypeRegularFollowUp, "schedule_meeting", "low"
		s.Reason = "regular follow-up"
		lo, hi = 7, 14
	}

	s.SuggestedDate = now.AddDate(0, 0, pickDay(lo, hi, sig.Jitter)).Format(time.DateOnly)
	s.Details.LastContactDays = sig.DaysSinceContact
	if doc.Contractor.Phone != "" {
		s.Details.ContactMethod = "phone"
		s.Details.ContactInfo = doc.Contractor.Phone
	} else {
		s.Details.ContactMethod = "email"
		s.Details.ContactInfo = doc.SourceURL
	}
	return s
}

// pickDay maps jitter in [0,1) onto the inclusive range [lo, hi].
func pickDay(lo, hi int, jitter float64) int {
	jitter = math.Min(math.Max(jitter, 0), math.Nextafter(1, 0))
	return lo + int(jitter*float64(hi-lo+1))
}
