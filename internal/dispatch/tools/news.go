package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/parley/internal/dispatch"
)

const newsMaxResults = 5

// newsPrologue primes the model to summarize rather than enumerate; the
// replies are spoken aloud, so list-shaped output reads badly.
const newsPrologue = "INSTRUCTIONS:\n" +
	"The following content contains news articles retrieved based on the query: %q. " +
	"Each article contains a title, a brief description, the provider, and the date " +
	"it was published. Summarize the key points in a conversational, voice-friendly " +
	"manner. Avoid listing the articles; instead, provide a concise, natural-sounding " +
	"summary that highlights the most relevant information based on the query.\n"

// NewsSearch searches current news articles via a Bing-compatible news API.
type NewsSearch struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewNewsSearch creates a news search tool. endpoint may be empty to use
// the default API host.
func NewNewsSearch(apiKey, endpoint string) *NewsSearch {
	if endpoint == "" {
		endpoint = "https://api.bing.microsoft.com/v7.0/news/search"
	}
	return &NewsSearch{
		apiKey:  apiKey,
		baseURL: endpoint,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (n *NewsSearch) Name() string        { return "search_news" }
func (n *NewsSearch) Description() string { return "Search current news articles" }
func (n *NewsSearch) Params() []dispatch.Param {
	return []dispatch.Param{
		{Name: "query", Type: "string", Description: "The query used to search for current news articles", Required: true},
	}
}

type newsResponse struct {
	Value []newsArticle `json:"value"`
}

type newsArticle struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	DatePublished string         `json:"datePublished"`
	Provider      []newsProvider `json:"provider"`
}

type newsProvider struct {
	Name string `json:"name"`
}

func (n *NewsSearch) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := dispatch.StringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	u, _ := url.Parse(n.baseURL)
	q := u.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", newsMaxResults))
	q.Set("freshness", "Day")
	q.Set("safeSearch", "Strict")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("news request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("news API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result newsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, newsPrologue, query)

	if len(result.Value) == 0 {
		sb.WriteString("No news articles found for the query.")
		return sb.String(), nil
	}

	for _, article := range result.Value {
		providers := make([]string, 0, len(article.Provider))
		for _, p := range article.Provider {
			providers = append(providers, p.Name)
		}
		fmt.Fprintf(&sb, "Article:\nTitle: %s\nDescription: %s\nProvider(s): %s\nPublished on: %s\n\n",
			cleanHTML(article.Name),
			cleanHTML(article.Description),
			strings.Join(providers, ", "),
			article.DatePublished,
		)
	}
	return sb.String(), nil
}

// cleanHTML strips markup that some providers embed in titles and
// descriptions, leaving readable text.
func cleanHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}
