package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kalambet/finrag/internal/api"
	"github.com/kalambet/finrag/internal/config"
	"github.com/kalambet/finrag/internal/generator"
	"github.com/kalambet/finrag/internal/knowledge"
	"github.com/kalambet/finrag/internal/session"
	"github.com/kalambet/finrag/internal/storage"
)

// companyPath is the API path of a company resource.
func companyPath(ticker, market string) string {
	if market == "" {
		market = "US"
	}
	return fmt.Sprintf("/companies/%s/%s", url.PathEscape(strings.ToUpper(market)), url.PathEscape(strings.ToUpper(ticker)))
}

// --- load / reset ---

var loadCmd = &cobra.Command{
	Use:   "load <ticker>",
	Short: "Fetch, index and build the knowledge graph for a company",
	Long: `Load a company's latest annual filing into the running server.

Examples:
  finrag load AAPL
  finrag load 7203 --market JP --async`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		async, _ := cmd.Flags().GetBool("async")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runLoad(cmd.Context(), client, os.Stdout, args[0], market, async)
	},
}

func runLoad(ctx context.Context, client *apiClient, w io.Writer, ticker, market string, async bool) error {
	path := companyPath(ticker, market) + "/load"
	if async {
		path += "?async=true"
	}
	resp, err := client.post(ctx, path, nil)
	if err != nil {
		return err
	}

	if async {
		var queued map[string]string
		if err := decodeJSON(resp, &queued); err != nil {
			return err
		}
		printSuccess("Queued load of %s as job %s", queued["key"], queued["job_id"])
		fmt.Fprintf(w, "Check progress with: finrag job %s\n", queued["job_id"])
		return nil
	}

	var st session.LoadStatus
	if err := decodeResult(resp, &st); err != nil {
		return err
	}
	if st.Status == session.StatusError {
		return fmt.Errorf("loading %s failed: %s", st.Key, st.Error)
	}
	printSuccess("%s %s (%d chunks)", st.Key, st.Status, st.Documents)
	if st.Degraded {
		printWarning("embeddings are degraded; retrieval uses hashed vectors")
	}
	if st.Completeness > 0 {
		fmt.Fprintf(w, "  completeness: %.0f%%\n", st.Completeness*100)
	}
	for _, issue := range st.Issues {
		printWarning("%s", issue)
	}
	if st.Knowledge != "" {
		fmt.Fprintf(w, "  %s\n", st.Knowledge)
	}
	return nil
}

var resetCmd = &cobra.Command{
	Use:   "reset <ticker>",
	Short: "Evict a loaded company from the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), companyPath(args[0], market))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Reset %s", session.Key(args[0], defaultMarket(market)))
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the status of a background load",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job storage.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printStatus("Job", "%s", job.ID)
		printStatus("Status", "%s", job.Status)
		printStatus("Attempts", "%d/%d", job.Attempts, job.MaxAttempts)
		printStatus("Updated", "%s", humanize.Time(job.UpdatedAt))
		if job.LastError != "" {
			printStatus("Last error", "%s", job.LastError)
		}
		return nil
	},
}

func defaultMarket(m string) string {
	if m == "" {
		return "US"
	}
	return m
}

func init() {
	loadCmd.Flags().String("market", "US", "market code")
	loadCmd.Flags().Bool("async", false, "queue the load and return immediately")
	resetCmd.Flags().String("market", "US", "market code")
}

// --- ask / summary ---

var askCmd = &cobra.Command{
	Use:   "ask <ticker> <question>",
	Short: "Answer a question from a company's filing",
	Long: `Ask a question about a company's filing. The company is loaded on demand.

Examples:
  finrag ask AAPL "What was total revenue in fiscal 2024?"
  finrag ask MSFT "How did operating margin change?" --no-verify`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		noVerify, _ := cmd.Flags().GetBool("no-verify")
		asJSON, _ := cmd.Flags().GetBool("json")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		verifyAnswer := !noVerify
		req := api.QueryRequest{
			Ticker:   args[0],
			Market:   market,
			Question: strings.Join(args[1:], " "),
			Verify:   &verifyAnswer,
		}
		return runAsk(cmd.Context(), client, os.Stdout, req, asJSON)
	},
}

func runAsk(ctx context.Context, client *apiClient, w io.Writer, req api.QueryRequest, asJSON bool) error {
	resp, err := client.post(ctx, "/query", req)
	if err != nil {
		return err
	}
	var res session.QueryResult
	if err := decodeResult(resp, &res); err != nil {
		return err
	}
	if asJSON {
		return writeIndented(w, res)
	}
	printQueryResult(w, res)
	if !res.OK() {
		return fmt.Errorf("answering failed: %s", res.Error)
	}
	return nil
}

var summaryCmd = &cobra.Command{
	Use:   "summary <ticker>",
	Short: "Produce a cited financial summary of a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), companyPath(args[0], market)+"/summary")
		if err != nil {
			return err
		}
		var res session.QueryResult
		if err := decodeResult(resp, &res); err != nil {
			return err
		}
		printQueryResult(os.Stdout, res)
		if !res.OK() {
			return fmt.Errorf("summary failed: %s", res.Error)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("market", "US", "market code")
	askCmd.Flags().Bool("no-verify", false, "skip answer verification")
	askCmd.Flags().Bool("json", false, "print the raw JSON result")
	summaryCmd.Flags().String("market", "US", "market code")
}

// printQueryResult renders an answer with its confidence, verdicts and
// sources.
func printQueryResult(w io.Writer, res session.QueryResult) {
	fmt.Fprintf(w, "%s %s\n", bold.Sprint(res.Key), res.Question)
	if res.Answer != "" {
		fmt.Fprintf(w, "\n%s\n\n", res.Answer)
	}
	fmt.Fprintf(w, "Confidence: %s", formatConfidence(res.Confidence))
	if res.Degraded {
		fmt.Fprint(w, yellow.Sprint(" (degraded retrieval)"))
	}
	fmt.Fprintln(w)

	if v := res.Verification; v != nil {
		for _, r := range v.Results {
			fmt.Fprintf(w, "  Agent %s: [%s] %s\n", r.Agent, r.Status, r.Details)
			if r.Correction != "" {
				fmt.Fprintf(w, "    correction: %s\n", r.Correction)
			}
		}
	}

	if len(res.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for i, s := range res.Sources {
			loc := s.Source
			if s.Page > 0 {
				loc = fmt.Sprintf("%s p.%d", loc, s.Page)
			}
			fmt.Fprintf(w, "  [%d] %s (score %.3f)\n", i+1, loc, s.Score)
		}
	}
	fmt.Fprintf(w, "Retrieval %dms, generation %dms, total %dms. Audit %s\n",
		res.RetrievalMS, res.GenerationMS, res.LatencyMS, res.AuditID)
	if res.Error != "" {
		fmt.Fprintln(w, red.Sprint("Error: "+res.Error))
	}
}

func formatConfidence(c float64) string {
	return confidenceColor(c).Sprintf("%.2f", c)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- batch / compare ---

var batchCmd = &cobra.Command{
	Use:   "batch <file.json>",
	Short: "Answer a batch of questions concurrently",
	Long: `Answer the questions listed in a JSON file. The file holds either an
array of requests or an object with a "requests" array:

  [{"id": "q1", "ticker": "AAPL", "question": "What was revenue?"},
   {"id": "q2", "ticker": "MSFT", "question": "What was net income?", "verify": false}]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := readBatchFile(args[0])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runBatch(cmd.Context(), client, os.Stdout, reqs)
	},
}

func readBatchFile(path string) ([]session.BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var reqs []session.BatchRequest
	if err := json.Unmarshal(data, &reqs); err == nil {
		return reqs, nil
	}
	var wrapped api.BatchQueryRequest
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	return wrapped.Requests, nil
}

func runBatch(ctx context.Context, client *apiClient, w io.Writer, reqs []session.BatchRequest) error {
	resp, err := client.post(ctx, "/batch", api.BatchQueryRequest{Requests: reqs})
	if err != nil {
		return err
	}
	var out struct {
		Results []session.BatchResult `json:"results"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}

	failed := 0
	for _, r := range out.Results {
		if !r.OK() {
			failed++
			fmt.Fprintf(w, "%s %s %s\n", red.Sprint("✗"), bold.Sprint(r.ID), r.Error)
			continue
		}
		fmt.Fprintf(w, "%s %s [%s] %s\n", green.Sprint("✓"), bold.Sprint(r.ID), formatConfidence(r.Confidence), oneLine(r.Answer, 160))
	}
	if failed > 0 {
		printWarning("%d of %d questions failed", failed, len(out.Results))
	} else {
		printSuccess("%d questions answered", len(out.Results))
	}
	return nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

var compareCmd = &cobra.Command{
	Use:   "compare <ticker1> <ticker2> <metric>",
	Short: "Compare a metric across two companies",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		req := api.CompareRequest{
			Ticker1: args[0],
			Ticker2: args[1],
			Metric:  strings.Join(args[2:], " "),
			Market:  market,
		}
		return runCompare(cmd.Context(), client, os.Stdout, req)
	},
}

func runCompare(ctx context.Context, client *apiClient, w io.Writer, req api.CompareRequest) error {
	resp, err := client.post(ctx, "/compare", req)
	if err != nil {
		return err
	}
	var cmp session.Comparison
	if err := decodeJSON(resp, &cmp); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s\n", bold.Sprint("Metric:"), cmp.Metric)
	for _, ticker := range sortedKeys(cmp.Results) {
		res := cmp.Results[ticker]
		fmt.Fprintf(w, "\n%s [%s]\n", bold.Sprint(ticker), formatConfidence(res.Confidence))
		if res.OK() {
			fmt.Fprintf(w, "  %s\n", oneLine(res.Answer, 400))
		} else {
			fmt.Fprintf(w, "  %s\n", red.Sprint(res.Error))
		}
		if tr, ok := cmp.Trends[ticker]; ok && tr.Label != "" {
			fmt.Fprintf(w, "  trend: %s\n", formatTrend(tr))
		}
	}
	return nil
}

func formatTrend(tr knowledge.TrendResult) string {
	if len(tr.Years) == 0 {
		return string(tr.Label)
	}
	parts := make([]string, len(tr.Years))
	for i, y := range tr.Years {
		parts[i] = fmt.Sprintf("%d: %s", y, humanize.FormatFloat("#,###.##", tr.Values[i]))
	}
	return fmt.Sprintf("%s (%s)", tr.Label, strings.Join(parts, ", "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	compareCmd.Flags().String("market", "US", "market code")
}

// --- compare-models ---

var compareModelsCmd = &cobra.Command{
	Use:   "compare-models <ticker> <question>",
	Short: "Answer one question with several chat models side by side",
	Long: `Run the same question through several chat models in-process, without
a running server. Results are not written to the audit trail.

Example:
  finrag compare-models AAPL "What was revenue?" --models llama3.2,mistral`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		modelsFlag, _ := cmd.Flags().GetString("models")
		return runCompareModels(cmd.Context(), args[0], market, strings.Join(args[1:], " "), modelsFlag)
	},
}

func runCompareModels(ctx context.Context, ticker, market, question, modelsFlag string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	models := splitList(modelsFlag)
	if len(models) == 0 {
		models = []string{cfg.Engine.ChatModel}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gens := make(map[string]generator.Generator, len(models))
	for _, m := range models {
		gens[m] = generator.NewEngineGenerator(a.engine, generatorOptions(cfg, m))
	}

	printStep("Loading %s", session.Key(ticker, defaultMarket(market)))
	results, err := a.orchestrator.CompareAnswers(ctx, ticker, defaultMarket(market), question, gens)
	if err != nil {
		return err
	}
	for _, m := range sortedKeys(results) {
		fmt.Printf("\n%s\n", cyan.Sprint("== "+m+" =="))
		printQueryResult(os.Stdout, results[m])
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	compareModelsCmd.Flags().String("market", "US", "market code")
	compareModelsCmd.Flags().String("models", "", "comma-separated chat models (default: configured chat model)")
}

// --- audit / kg ---

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent answered questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		history, _ := cmd.Flags().GetBool("history")
		ticker, _ := cmd.Flags().GetString("ticker")
		market, _ := cmd.Flags().GetString("market")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if history {
			return runAuditHistory(cmd.Context(), client, os.Stdout, ticker, market, limit)
		}
		return runAudit(cmd.Context(), client, os.Stdout, limit)
	},
}

func runAudit(ctx context.Context, client *apiClient, w io.Writer, limit int) error {
	resp, err := client.get(ctx, fmt.Sprintf("/audit?limit=%d", limit))
	if err != nil {
		return err
	}
	var records []session.AuditRecord
	if err := decodeJSON(resp, &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No questions answered in this session.")
		return nil
	}
	for _, r := range records {
		mark := green.Sprint("✓")
		if r.Error != "" {
			mark = red.Sprint("✗")
		}
		fmt.Fprintf(w, "%s %s %s [%s] %s\n", mark, humanize.Time(r.Timestamp), bold.Sprint(r.Key), formatConfidence(r.Confidence), r.Question)
		fmt.Fprintf(w, "    %d chunks retrieved, id %s\n", len(r.Retrieved), r.ID)
	}
	return nil
}

func runAuditHistory(ctx context.Context, client *apiClient, w io.Writer, ticker, market string, limit int) error {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if ticker != "" {
		q.Set("ticker", ticker)
		q.Set("market", defaultMarket(market))
	}
	resp, err := client.get(ctx, "/audit/history?"+q.Encode())
	if err != nil {
		return err
	}
	var records []storage.AuditRecord
	if err := decodeJSON(resp, &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit history.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s %s %s [%s] %s\n", r.CreatedAt.Format("2006-01-02 15:04"), bold.Sprint(r.CompanyKey), r.Status, formatConfidence(r.Confidence), r.Question)
	}
	return nil
}

var kgCmd = &cobra.Command{
	Use:   "kg <ticker>",
	Short: "Show the knowledge graph of a loaded company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		market, _ := cmd.Flags().GetString("market")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runKnowledge(cmd.Context(), client, os.Stdout, args[0], market)
	},
}

func runKnowledge(ctx context.Context, client *apiClient, w io.Writer, ticker, market string) error {
	resp, err := client.get(ctx, companyPath(ticker, market)+"/knowledge")
	if err != nil {
		return err
	}
	var kg api.KnowledgeResponse
	if err := decodeJSON(resp, &kg); err != nil {
		return err
	}
	fmt.Fprintln(w, bold.Sprint(kg.Key))
	fmt.Fprintln(w, kg.Summary)
	for _, metric := range sortedKeys(kg.Trends) {
		fmt.Fprintf(w, "  %s: %s\n", knowledge.Title(metric), formatTrend(kg.Trends[metric]))
	}
	if len(kg.Peers) > 0 {
		fmt.Fprintf(w, "  peers: %s\n", strings.Join(kg.Peers, ", "))
	}
	return nil
}

func init() {
	auditCmd.Flags().Int("limit", 20, "maximum number of records")
	auditCmd.Flags().Bool("history", false, "read the persisted audit trail instead of the session log")
	auditCmd.Flags().String("ticker", "", "filter history by ticker")
	auditCmd.Flags().String("market", "US", "market of --ticker")
	kgCmd.Flags().String("market", "US", "market code")
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
			fmt.Printf("  %s = %s\n", bold.Sprint(k.Key), k.Value)
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

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable keys and their environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ShowAll(config.Config{}) {
			fmt.Printf("  %-34s %s\n", k.Key, k.EnvVar)
		}
		fmt.Printf("  config file: %s\n", config.ConfigFilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configKeysCmd)
}
