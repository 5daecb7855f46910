package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/scout/internal/config"
	"github.com/kalambet/scout/internal/engine"
	"github.com/kalambet/scout/internal/retrieval"
)

// --- chat ---

type chatReply struct {
	Answer      string `json:"answer"`
	Reasoning   string `json:"reasoning"`
	SessionID   string `json:"session_id"`
	Suggestions []struct {
		Contractor    string `json:"contractor"`
		Action        string `json:"action"`
		Reason        string `json:"reason"`
		SuggestedDate string `json:"suggested_date"`
		Priority      string `json:"priority"`
	} `json:"suggestions"`
	Docs []map[string]any `json:"docs"`
}

var chatCmd = &cobra.Command{
	Use:   "chat <query>",
	Short: "Ask the running server a question",
	Long: `Ask the running server a question.

Examples:
  scout chat "roofers in new york with 20 years experience"
  scout chat --session s-42 --web "who should I call this week?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		web, _ := cmd.Flags().GetBool("web")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"query": strings.Join(args, " ")}
		if sessionID != "" {
			req["session_id"] = sessionID
		}
		if web {
			req["web_search"] = true
		}

		resp, err := client.post(cmd.Context(), "/chat", req)
		if err != nil {
			return err
		}

		if asJSON {
			var raw any
			if err := decodeJSON(resp, &raw); err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), raw)
		}

		var reply chatReply
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}
		printChatReply(cmd.OutOrStdout(), reply)
		return nil
	},
}

func printChatReply(w io.Writer, r chatReply) {
	fmt.Fprintln(w, r.Answer)

	if len(r.Suggestions) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Suggestions"))
		for _, s := range r.Suggestions {
			tag := colorize(priorityColor(s.Priority), "["+s.Priority+"]")
			fmt.Fprintf(w, "  %s %s: %s by %s\n", tag, s.Contractor, s.Action, s.SuggestedDate)
		}
	}

	if len(r.Docs) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Documents"))
		for _, d := range r.Docs {
			fmt.Fprintf(w, "  %s  %v  [relevance: %.3f]\n",
				colorize(colorCyan, fmt.Sprintf("#%v", d["doc_id"])), d["name"], toFloat(d["relevance_score"]))
		}
	}

	fmt.Fprintf(w, "\nsession: %s\n", r.SessionID)
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	chatCmd.Flags().String("session", "", "session id to continue")
	chatCmd.Flags().Bool("web", false, "run a web search before answering")
	chatCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <doc_id>",
	Short: "Record whether a document was helpful for a query",
	Long: `Record whether a document was helpful for a query.

Examples:
  scout feedback 12 --query "roofers in new york" --helpful
  scout feedback 7 --query "plumbers" --unhelpful --session s-42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		helpful, _ := cmd.Flags().GetBool("helpful")
		unhelpful, _ := cmd.Flags().GetBool("unhelpful")
		sessionID, _ := cmd.Flags().GetString("session")

		if query == "" {
			return fmt.Errorf("--query is required")
		}
		if helpful == unhelpful {
			return fmt.Errorf("exactly one of --helpful or --unhelpful is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"query":      query,
			"doc_id":     args[0],
			"is_helpful": helpful,
			"metadata":   map[string]any{"source": "cli"},
		}
		if sessionID != "" {
			req["session_id"] = sessionID
		}

		resp, err := client.post(cmd.Context(), "/feedback", req)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s for doc %s", result["message"], args[0])
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("query", "", "query the document was returned for")
	feedbackCmd.Flags().Bool("helpful", false, "mark the document helpful")
	feedbackCmd.Flags().Bool("unhelpful", false, "mark the document unhelpful")
	feedbackCmd.Flags().String("session", "", "session to attach the feedback to")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate feedback statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/feedback/stats")
		if err != nil {
			return err
		}
		var stats struct {
			TotalFeedback  int     `json:"total_feedback"`
			HelpfulCount   int     `json:"helpful_count"`
			UnhelpfulCount int     `json:"unhelpful_count"`
			HelpfulRatio   float64 `json:"helpful_ratio"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Total feedback", "%d", stats.TotalFeedback)
		printStatus("Helpful", "%d", stats.HelpfulCount)
		printStatus("Unhelpful", "%d", stats.UnhelpfulCount)
		printStatus("Helpful ratio", "%.1f%%", stats.HelpfulRatio*100)
		return nil
	},
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the contractor index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed contractor records and write index.faiss and metadata.json",
	Long: `Embed contractor records and write index.faiss and metadata.json.

The input is a JSON or YAML list of contractor objects. A "url" field on a
record becomes the document's source URL.

Examples:
  scout index build --input contractors.json
  scout index build --input contractors.yaml --out ./vectordb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		out, _ := cmd.Flags().GetString("out")
		if input == "" {
			return fmt.Errorf("--input is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if out == "" {
			out = cfg.Index.Dir
		}

		contractors, urls, err := loadContractors(input)
		if err != nil {
			return err
		}

		eng, err := engine.NewEmbedding(cmd.Context(), engineConfig(cfg, cfg.Embedding.Provider))
		if err != nil {
			return fmt.Errorf("creating embedding backend: %w", err)
		}
		if err := engine.EnsureReady(cmd.Context(), eng, []string{cfg.Embedding.Model}, os.Stderr); err != nil {
			return err
		}

		printStep("Embedding %d contractors with %s/%s", len(contractors), eng.Name(), cfg.Embedding.Model)
		idx, err := retrieval.Build(cmd.Context(), retrieval.NewEmbedder(eng, cfg.Embedding.Model), out, contractors, urls)
		if err != nil {
			return fmt.Errorf("building index: %w", err)
		}

		printSuccess("Indexed %d documents (dimension %d) into %s", idx.Len(), idx.Dim(), out)
		return nil
	},
}

// loadContractors reads a list of contractor records and splits off each
// record's url.
func loadContractors(path string) ([]retrieval.Contractor, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading contractors: %w", err)
	}

	var contractors []retrieval.Contractor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &contractors)
	default:
		err = json.Unmarshal(data, &contractors)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if len(contractors) == 0 {
		return nil, nil, fmt.Errorf("%s contains no contractors", filepath.Base(path))
	}

	urls := make([]string, len(contractors))
	for i := range contractors {
		if u, ok := contractors[i].Extra["url"].(string); ok {
			urls[i] = u
			delete(contractors[i].Extra, "url")
		}
	}
	return contractors, urls, nil
}

func init() {
	indexBuildCmd.Flags().String("input", "", "contractor records (JSON or YAML)")
	indexBuildCmd.Flags().String("out", "", "output directory (default: index.dir)")
	indexCmd.AddCommand(indexBuildCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
