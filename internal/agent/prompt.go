package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/scout/internal/reranking"
)

const analysisTemplate = `Analyze the following contractor search results and provide insights:

Query: %s
Context: %s
Current Time: %s

Contractors:
%s

Session context:
%s

Please provide:
1. Key observations about the contractors
2. Potential opportunities or concerns
3. Recommended next steps`

const responseTemplate = `Based on your previous analysis, generate a final response to the sales team. Include the specific action items and their timing.
Contractor info:
%s
Sales team question: %s
Previous analysis:
%s
Suggested actions:
%s
Session context:
%s
Your answer (in English, concise, actionable, and focused on helping the sales team engage decision-makers):`

// BuildContext renders ranked documents as the plain-text block shown to the
// oracle, one contractor per paragraph.
func BuildContext(docs []reranking.Ranked) string {
	blocks := make([]string, len(docs))
	for i, d := range docs {
		c := d.Document.Contractor
		blocks[i] = fmt.Sprintf("Name: %s\nAbout: %s\nAddress: %s\nPhone: %s\nURL: %s\n",
			c.Name, c.AboutUs, c.Address, c.Phone, d.Document.SourceURL)
	}
	return strings.Join(blocks, "\n\n")
}

// BuildAnalysisPrompt is the Think stage prompt. sessionView is the
// formatted session context, including any merged web search results.
func BuildAnalysisPrompt(obs Observation, sessionView []byte) string {
	names := make([]string, len(obs.Docs))
	for i, d := range obs.Docs {
		names[i] = "- " + d.Document.Contractor.Name
	}
	return fmt.Sprintf(analysisTemplate,
		obs.Query, obs.Context, obs.CurrentTime.Format(time.RFC3339), strings.Join(names, "\n"), sessionView)
}

// BuildResponsePrompt is the Act stage prompt. Suggestions are embedded as JSON.
func BuildResponsePrompt(obs Observation, th Thought, sessionView []byte) (string, error) {
	sugg, err := json.MarshalIndent(th.Suggestions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding suggestions: %w", err)
	}
	return fmt.Sprintf(responseTemplate, obs.Context, obs.Query, th.Reasoning, sugg, sessionView), nil
}
