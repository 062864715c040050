// Package oracle resolves bet outcomes with a two-step pipeline: a web
// search for recent information about the bet, then an LLM call that turns
// the search results into a structured verdict. An option index of -1
// means the oracle cannot decide and the bet should go to a manual poll.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Indeterminate is the option value meaning "no verifiable outcome".
const Indeterminate = -1

// Resolution is the oracle's verdict on a bet.
type Resolution struct {
	Option int    `json:"option"`
	Reason string `json:"reason"`
}

// Client is the outcome-verification client
type Client struct {
	SearchBaseURL string
	SearchAPIKey  string
	SearchModel   string
	LLMBaseURL    string
	LLMAPIKey     string
	LLMModel      string
	Mock          bool
	client        *http.Client
	log           *zap.Logger
}

// NewClient creates a new oracle client
func NewClient(searchBaseURL, searchAPIKey, searchModel, llmBaseURL, llmAPIKey, llmModel string, mock bool, log *zap.Logger) *Client {
	return &Client{
		SearchBaseURL: searchBaseURL,
		SearchAPIKey:  searchAPIKey,
		SearchModel:   searchModel,
		LLMBaseURL:    llmBaseURL,
		LLMAPIKey:     llmAPIKey,
		LLMModel:      llmModel,
		Mock:          mock,
		client:        &http.Client{Timeout: 60 * time.Second},
		log:           log.Named("oracle"),
	}
}

// Resolve determines the winning option of the bet, or Indeterminate.
func (c *Client) Resolve(ctx context.Context, title string, options []string, endTime time.Time) (*Resolution, error) {
	if c.Mock {
		return &Resolution{
			Option: Indeterminate,
			Reason: "mock oracle cannot verify outcomes",
		}, nil
	}

	searchResults, err := c.search(ctx, title, options)
	if err != nil {
		return nil, fmt.Errorf("oracle: search: %w", err)
	}

	res, err := c.reason(ctx, title, options, endTime, searchResults)
	if err != nil {
		return nil, fmt.Errorf("oracle: reason: %w", err)
	}
	if res.Option < 0 || res.Option >= len(options) {
		res.Option = Indeterminate
	}
	c.log.Info("bet outcome resolved",
		zap.String("title", title),
		zap.Int("option", res.Option),
	)
	return res, nil
}

// search asks the search API for real-time information about the bet.
func (c *Client) search(ctx context.Context, title string, options []string) (string, error) {
	query := fmt.Sprintf("Resolve the outcome of the bet titled: %q. Options are: %s",
		title, strings.Join(options, ", "))

	body := map[string]interface{}{
		"model": c.SearchModel,
		"messages": []map[string]string{
			{"role": "user", "content": query},
		},
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, c.SearchBaseURL+"/chat/completions", "Bearer "+c.SearchAPIKey, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty search response")
	}
	return out.Choices[0].Message.Content, nil
}

// reason feeds the search results to the LLM and parses its structured
// verdict.
func (c *Client) reason(ctx context.Context, title string, options []string, endTime time.Time, searchResults string) (*Resolution, error) {
	var optionList strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&optionList, "%d: %s\n", i, opt)
	}

	prompt := fmt.Sprintf(`A bet needs resolution. Use the provided search results, bet details and current time to determine the outcome.

Bet Details:
- Title: %s
- Options:
%s- End Time: %s
- Current Time: %s

Search Results:
%s

Respond with JSON {"result": <option index>, "reason": <string>}.
If no valid outcome can be verified, use -1 for result and explain why.`,
		title, optionList.String(),
		endTime.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		searchResults,
	)

	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]string{
			"response_mime_type": "application/json",
		},
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.LLMBaseURL, c.LLMModel, c.LLMAPIKey)
	if err := c.post(ctx, url, "", body, &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty model response")
	}

	var verdict struct {
		Result int    `json:"result"`
		Reason string `json:"reason"`
	}
	text := out.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return nil, fmt.Errorf("decode verdict %q: %w", text, err)
	}
	return &Resolution{Option: verdict.Result, Reason: verdict.Reason}, nil
}

func (c *Client) post(ctx context.Context, url, authorization string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
