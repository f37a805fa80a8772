// Package analyzer provides the multi-perspective analysis capability on
// top of the Anthropic Messages API. It exposes two operations: a full
// perspective analysis of assembled research context, and a cheap
// follow-up question proposal over extracted text.
package analyzer

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// MaxQuestions caps how many follow-up questions a proposal may return.
const MaxQuestions = 3

// Analysis is a structured multi-perspective result.
type Analysis struct {
	Summary           string   `json:"summary"`
	LeftPerspective   string   `json:"leftPerspective"`
	CenterPerspective string   `json:"centerPerspective"`
	RightPerspective  string   `json:"rightPerspective"`
	FactualAccuracy   int      `json:"factualAccuracy"`
	Sources           []string `json:"sources"`
}

// Client defines the analyzer operations used by the orchestrator.
type Client interface {
	Analyze(ctx context.Context, input string) (*Analysis, error)
	ProposeQuestions(ctx context.Context, text string) ([]string, error)
}

const analyzeSystemPrompt = `You are an expert research system analyzing content from multiple perspectives.
Conduct a thorough analysis of the provided content and generate:
1. A factual, balanced summary of the main points
2. Analysis from a center perspective (balanced, evidence-based view)
3. Analysis from a left-leaning perspective (progressive/liberal viewpoint)
4. Analysis from a right-leaning perspective (conservative/traditional viewpoint)
5. Sources that would be relevant for this analysis
6. A factual accuracy score (1-10)

Provide nuanced, thoughtful analysis for each perspective, avoiding stereotypes or extremes.
Respond with a single JSON object with keys: summary, leftPerspective, centerPerspective, rightPerspective, factualAccuracy, sources.`

const questionsSystemPrompt = `You are an expert research assistant determining if additional information is needed to conduct a thorough analysis.
If follow-up questions would materially improve the analysis, provide them; if the content is self-sufficient, return none.
Limit to 3 questions maximum.
Respond with a single JSON object: {"questions": [{"question": "Question text here"}]}.`

// Option configures the analyzer client.
type Option func(*sdkClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		c.model = model
	}
}

// WithMaxTokens overrides the response token budget.
func WithMaxTokens(n int64) Option {
	return func(c *sdkClient) {
		c.maxTokens = n
	}
}

// WithBaseURL points the client at a different API endpoint (for testing).
func WithBaseURL(url string) Option {
	return func(c *sdkClient) {
		c.sdkOpts = append(c.sdkOpts, option.WithBaseURL(url))
	}
}

type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
	sdkOpts   []option.RequestOption
}

// NewClient creates an analyzer backed by the official anthropic-sdk-go.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		model:     "claude-sonnet-4-5-20250929",
		maxTokens: 4096,
	}
	c.sdkOpts = append(c.sdkOpts, option.WithAPIKey(apiKey))
	for _, opt := range opts {
		opt(c)
	}
	c.client = sdk.NewClient(c.sdkOpts...)
	return c
}

func (c *sdkClient) Analyze(ctx context.Context, input string) (*Analysis, error) {
	text, err := c.complete(ctx, analyzeSystemPrompt,
		"Analyze this content with multiple perspectives:\n\n"+input)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text)
}

func (c *sdkClient) ProposeQuestions(ctx context.Context, text string) ([]string, error) {
	out, err := c.complete(ctx, questionsSystemPrompt,
		"Analyze this content and determine if you need additional information to provide a comprehensive multi-perspective analysis: "+text)
	if err != nil {
		return nil, err
	}
	return parseQuestions(out)
}

func (c *sdkClient) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "analyzer: create message")
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", eris.New("analyzer: response contained no text block")
}

// analysisPayload tolerates the accuracy score arriving as a float or
// being absent entirely.
type analysisPayload struct {
	Summary           string      `json:"summary"`
	LeftPerspective   string      `json:"leftPerspective"`
	CenterPerspective string      `json:"centerPerspective"`
	RightPerspective  string      `json:"rightPerspective"`
	FactualAccuracy   json.Number `json:"factualAccuracy"`
	Sources           []string    `json:"sources"`
}

func parseAnalysis(text string) (*Analysis, error) {
	var payload analysisPayload
	if err := json.Unmarshal([]byte(stripFences(text)), &payload); err != nil {
		return nil, eris.Wrap(err, "analyzer: unmarshal analysis")
	}

	a := &Analysis{
		Summary:           withDefault(payload.Summary, "No summary provided"),
		LeftPerspective:   withDefault(payload.LeftPerspective, "No left perspective provided"),
		CenterPerspective: withDefault(payload.CenterPerspective, "No center perspective provided"),
		RightPerspective:  withDefault(payload.RightPerspective, "No right perspective provided"),
		Sources:           payload.Sources,
	}
	if f, err := payload.FactualAccuracy.Float64(); err == nil {
		a.FactualAccuracy = int(f)
	}
	return a, nil
}

type questionsPayload struct {
	Questions []struct {
		Question string `json:"question"`
	} `json:"questions"`
}

func parseQuestions(text string) ([]string, error) {
	var payload questionsPayload
	if err := json.Unmarshal([]byte(stripFences(text)), &payload); err != nil {
		return nil, eris.Wrap(err, "analyzer: unmarshal questions")
	}

	var questions []string
	for _, q := range payload.Questions {
		if strings.TrimSpace(q.Question) == "" {
			continue
		}
		questions = append(questions, q.Question)
		if len(questions) == MaxQuestions {
			break
		}
	}
	return questions, nil
}

// stripFences removes a surrounding markdown code fence, which models
// sometimes add despite the JSON-only instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func withDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
