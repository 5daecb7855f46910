// Package websearch augments a session with external web search results.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"google.golang.org/genai"
)

// Result is one web hit in the shape stored in session context.
type Result struct {
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Snippet  string         `json:"snippet"`
	Source   string         `json:"source"`
	Metadata ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	Pagemap    map[string]any `json:"pagemap"`
	Mime       string         `json:"mime"`
	FileFormat string         `json:"fileFormat"`
}

// Results is the uniform search response.
type Results struct {
	Query        string   `json:"query"`
	TotalResults string   `json:"total_results"`
	SearchTime   float64  `json:"search_time"`
	Results      []Result `json:"results"`
}

// Provider runs a web search returning at most n results.
type Provider interface {
	Search(ctx context.Context, query string, n int) (Results, error)
}

// DefaultCSEEndpoint is the Google Custom Search JSON API.
const DefaultCSEEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleCSE queries a Google Programmable Search Engine.
type GoogleCSE struct {
	apiKey   string
	cx       string
	endpoint string
	http     *http.Client
}

// NewGoogleCSE creates a provider for the engine cx.
func NewGoogleCSE(apiKey, cx string) *GoogleCSE {
	return &GoogleCSE{
		apiKey:   apiKey,
		cx:       cx,
		endpoint: DefaultCSEEndpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// WithEndpoint points the provider at another URL. Used by tests.
func (g *GoogleCSE) WithEndpoint(u string) *GoogleCSE {
	g.endpoint = u
	return g
}

type cseResponse struct {
	SearchInformation struct {
		TotalResults string  `json:"totalResults"`
		SearchTime   float64 `json:"searchTime"`
	} `json:"searchInformation"`
	Items []struct {
		Title       string         `json:"title"`
		Link        string         `json:"link"`
		Snippet     string         `json:"snippet"`
		DisplayLink string         `json:"displayLink"`
		Pagemap     map[string]any `json:"pagemap"`
		Mime        string         `json:"mime"`
		FileFormat  string         `json:"fileFormat"`
	} `json:"items"`
}

func (g *GoogleCSE) Search(ctx context.Context, query string, n int) (Results, error) {
	q := url.Values{}
	q.Set("key", g.apiKey)
	q.Set("cx", g.cx)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(n))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Results{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return Results{}, fmt.Errorf("HTTP error occurred: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Results{}, fmt.Errorf("HTTP error occurred: status %d: %s", resp.StatusCode, body)
	}

	var raw cseResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Results{}, fmt.Errorf("decoding search response: %w", err)
	}

	out := Results{
		Query:        query,
		TotalResults: raw.SearchInformation.TotalResults,
		SearchTime:   raw.SearchInformation.SearchTime,
		Results:      make([]Result, 0, len(raw.Items)),
	}
	if out.TotalResults == "" {
		out.TotalResults = "0"
	}
	for _, it := range raw.Items {
		pm := it.Pagemap
		if pm == nil {
			pm = map[string]any{}
		}
		out.Results = append(out.Results, Result{
			Title:   it.Title,
			URL:     it.Link,
			Snippet: it.Snippet,
			Source:  it.DisplayLink,
			Metadata: ResultMetadata{
				Pagemap:    pm,
				Mime:       it.Mime,
				FileFormat: it.FileFormat,
			},
		})
	}
	return out, nil
}

// DefaultGeminiModel is used for grounded search when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiGrounded searches through Gemini's Google Search grounding tool and
// reports the grounding sources as results.
type GeminiGrounded struct {
	client *genai.Client
	model  string
}

// NewGeminiGrounded wraps an existing genai client.
func NewGeminiGrounded(client *genai.Client, model string) *GeminiGrounded {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiGrounded{client: client, model: model}
}

func (g *GeminiGrounded) Search(ctx context.Context, query string, n int) (Results, error) {
	prompt := fmt.Sprintf(`Search the web for the following query and summarize what you find about each source in one or two sentences.

Query: %s`, query)

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		})
	if err != nil {
		return Results{}, fmt.Errorf("gemini grounded search: %w", err)
	}

	out := Results{Query: query, Results: []Result{}}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		var summary string
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				summary += p.Text
			}
		}
		if gm := cand.GroundingMetadata; gm != nil {
			for _, chunk := range gm.GroundingChunks {
				if chunk.Web == nil {
					continue
				}
				out.Results = append(out.Results, Result{
					Title:    chunk.Web.Title,
					URL:      chunk.Web.URI,
					Source:   chunk.Web.Title,
					Metadata: ResultMetadata{Pagemap: map[string]any{}},
				})
				if len(out.Results) == n {
					break
				}
			}
		}
		if len(out.Results) > 0 {
			out.Results[0].Snippet = summary
		}
	}
	out.TotalResults = strconv.Itoa(len(out.Results))
	out.SearchTime = time.Since(start).Seconds()
	return out, nil
}
