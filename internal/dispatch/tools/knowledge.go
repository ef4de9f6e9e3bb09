package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/parley/internal/dispatch"
)

const knowledgeTopHits = 3

// KnowledgeSearch queries a search-index backend for information on a topic.
// The backend speaks the Azure Cognitive Search REST protocol.
type KnowledgeSearch struct {
	endpoint string
	index    string
	apiKey   string
	client   *http.Client
}

// NewKnowledgeSearch creates a knowledge search tool against the given
// search service endpoint and index.
func NewKnowledgeSearch(endpoint, index, apiKey string) *KnowledgeSearch {
	return &KnowledgeSearch{
		endpoint: strings.TrimRight(endpoint, "/"),
		index:    index,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (k *KnowledgeSearch) Name() string        { return "query_info" }
func (k *KnowledgeSearch) Description() string { return "Look up information about a specified topic" }
func (k *KnowledgeSearch) Params() []dispatch.Param {
	return []dispatch.Param{
		{Name: "query", Type: "string", Description: "The query used to search for information on a topic", Required: true},
	}
}

type searchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
}

type searchResponse struct {
	Value []searchHit `json:"value"`
}

type searchHit struct {
	Score float64 `json:"@search.score"`
	Title string  `json:"title"`
	Chunk string  `json:"chunk"`
}

func (k *KnowledgeSearch) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query := dispatch.StringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	body, err := json.Marshal(searchRequest{Search: query, Top: knowledgeTopHits})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=2023-11-01", k.endpoint, k.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", k.apiKey)

	resp, err := k.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if len(result.Value) == 0 {
		return "No information found for the query.", nil
	}

	var sb strings.Builder
	for _, hit := range result.Value {
		if hit.Title != "" {
			fmt.Fprintf(&sb, "%s:\n", hit.Title)
		}
		sb.WriteString(strings.TrimSpace(hit.Chunk))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
