// Package llm is the gateway to the OpenAI-compatible chat-completions
// endpoint (llm-runtime). It owns the planning and reply prompts; no other
// component talks to the model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicepilot/voicepilot/pkg/models"
)

// UpstreamError wraps a transport failure or non-2xx response from the
// LLM runtime. The executor treats it as fatal to the task; there are
// no retries at this layer.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("llm %s: upstream returned %d", e.Op, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Message is one chat message in the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests, custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates an LLM client for the given base URL and model.
func New(baseURL, model string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion POSTs a chat-completion request and returns the first
// choice's content verbatim. When jsonMode is set the backend is asked
// to emit a single JSON object.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, temperature float64, maxTokens int, jsonMode bool) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if jsonMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Op: "chat_completion", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UpstreamError{Op: "chat_completion", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Op: "chat_completion", Status: resp.StatusCode}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// GetPlanJSON asks the model for a structured plan and returns the parsed
// JSON object. Validation against the plan schema is the planner's job.
func (c *Client) GetPlanJSON(ctx context.Context, userMessage string) (map[string]interface{}, error) {
	messages := []Message{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: userMessage},
	}

	raw, err := c.ChatCompletion(ctx, messages, 0.2, 2048, true)
	if err != nil {
		return nil, err
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return obj, nil
}

// GenerateReply produces the natural-language summary read aloud to the
// user once a task completes.
func (c *Client) GenerateReply(ctx context.Context, goal string, results []models.StepResult) (string, error) {
	var summary strings.Builder
	for _, r := range results {
		if r.Status == models.StepOK {
			fmt.Fprintf(&summary, "- %s: OK → %v\n", r.Tool, r.Output)
		} else {
			errMsg := ""
			if r.Error != nil {
				errMsg = *r.Error
			}
			fmt.Fprintf(&summary, "- %s: ERROR → %s\n", r.Tool, errMsg)
		}
	}

	messages := []Message{
		{Role: "system", Content: replySystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Goal: %s\nResults:\n%s", goal, summary.String())},
	}
	return c.ChatCompletion(ctx, messages, 0.7, 300, false)
}

const replySystemPrompt = `You are a voice assistant. Your answer will be read aloud.
Rules:
- If the results include content extracted from a page (headlines, text, news), summarize it naturally and usefully. At most 4-5 sentences.
- If the task was only opening or navigating to a page, confirm briefly in one sentence.
- No technical jargon, no JSON, no full URLs, no asterisks or markdown.
- Speak in first person as if you performed the action yourself.
- Reply only with the text to read, without quotes or extra explanations.`

const planSystemPrompt = `You are an autonomous assistant that controls a web browser.
When the user asks for a task, respond ONLY with a JSON object matching this exact schema:
{
  "goal": "<short description of the objective>",
  "steps": [
    {
      "tool": "<name.action>",
      "args": { ... },
      "needs_ok": false,
      "ok_prompt": null
    }
  ]
}

AVAILABLE TOOLS:
- browser.open(url)                → open a URL in a new page
- browser.navigate(url)            → navigate to another URL in the same tab
- browser.click(element_id)        → click an element by id, name or text
- browser.type(element_id, text)   → type text into a field
- browser.extract(selector)        → extract the visible text of the page or a CSS selector
- browser.screenshot()             → capture the current screen
- browser.close()                  → close the browser

USAGE PATTERNS — when to use browser.extract:
Use browser.extract whenever the user asks to read, summarize, search or look up
page content. Examples:
- "news summary" → open(url) + extract(selector='body')
- "today's headlines" → open(url) + extract(selector='h1, h2, h3')
- "what does this site say" → open(url) + extract(selector='body')

SELECTOR in browser.extract:
- Use 'h1, h2, h3' for headlines
- Use 'body' for the whole page content
- Use 'article' or 'main' for the main content
- Use 'title' only for the tab title

Set needs_ok=true ONLY for irreversible actions (checkout, form submission, payment).
Do not include any text outside the JSON.`
