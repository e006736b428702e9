package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/atelier-ai/atelier/internal/infrastructure/config"
	"go.uber.org/zap"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// SearchTool queries the web through the Tavily API.
type SearchTool struct {
	store  *config.ToolStore
	client *http.Client
	logger *zap.Logger
}

// NewSearchTool creates the search tool.
func NewSearchTool(store *config.ToolStore, logger *zap.Logger) *SearchTool {
	return &SearchTool{
		store:  store,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (t *SearchTool) Name() string        { return "search" }
func (t *SearchTool) Description() string { return "Search the web." }
func (t *SearchTool) Kind() domaintool.Kind {
	return domaintool.KindSearch
}

func (t *SearchTool) Parameters() []domaintool.Parameter {
	return []domaintool.Parameter{
		{Name: "query", Type: "string", Description: "Search query.", Required: true},
		{Name: "max_results", Type: "number", Description: "Max results."},
	}
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *SearchTool) Execute(ctx context.Context, tc domaintool.Context, args domaintool.Args) (string, error) {
	query := args.String("query", true)
	if query == "" {
		return "", domaintool.ErrMissingParameter("query")
	}

	searchCfg := t.store.Search()
	if searchCfg.APIKey == "" {
		return "Search API key not configured. Set TAVILY_API_KEY or the tools config.", nil
	}

	payload := tavilyRequest{
		APIKey:      searchCfg.APIKey,
		Query:       query,
		MaxResults:  args.Int("max_results", searchCfg.MaxResults),
		SearchDepth: searchCfg.SearchDepth,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tavilyEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse search response: %w", err)
	}

	var sb strings.Builder
	if parsed.Answer != "" {
		sb.WriteString(parsed.Answer)
		sb.WriteString("\n\n")
	}
	count := 0
	for _, result := range parsed.Results {
		if result.Score < searchCfg.MinScore {
			continue
		}
		count++
		sb.WriteString(fmt.Sprintf("%d. %s\n%s\n%s\n\n", count, result.Title, result.URL, result.Content))
	}
	if count == 0 && parsed.Answer == "" {
		return "No results.", nil
	}
	return strings.TrimSpace(sb.String()), nil
}
