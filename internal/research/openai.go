package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/starford/deepnote/internal/apperr"
)

const (
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultResearchModel   = "gpt-4o"
	DefaultClassifierModel = "gpt-4o-mini"
	DefaultTimeout         = 120 * time.Second

	// classifierContextChars is how much of the new note the classifier sees.
	classifierContextChars = 1000
	classifierMaxTokens    = 200
	classifierTemperature  = 0.1
)

var errNoChoices = errors.New("no choices in response")

// Config configures the OpenAI-backed collaborators.
type Config struct {
	APIKey          string
	BaseURL         string
	ResearchModel   string
	ClassifierModel string
	Timeout         time.Duration
}

// OpenAI implements Researcher and Classifier with the chat completions API.
type OpenAI struct {
	client          openai.Client
	researchModel   string
	classifierModel string
	logger          *slog.Logger
}

var (
	_ Researcher = (*OpenAI)(nil)
	_ Classifier = (*OpenAI)(nil)
)

// NewOpenAI creates the OpenAI collaborators. An API key is required.
func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("research: openai api key is not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ResearchModel == "" {
		cfg.ResearchModel = DefaultResearchModel
	}
	if cfg.ClassifierModel == "" {
		cfg.ClassifierModel = DefaultClassifierModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)

	return &OpenAI{
		client:          client,
		researchModel:   cfg.ResearchModel,
		classifierModel: cfg.ClassifierModel,
		logger:          logger,
	}, nil
}

// Research asks the research model for a brief note on topic. Transport
// failures, empty answers and malformed JSON are all ErrFetch.
func (o *OpenAI) Research(ctx context.Context, topic string) (*Result, error) {
	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.researchModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a research assistant writing concise notes for a personal knowledge base. Respond with valid JSON only."),
			openai.UserMessage(researchPrompt(topic)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	start := time.Now()
	content, err := o.complete(ctx, req)
	o.logger.Debug("research: model call",
		slog.String("model", o.researchModel),
		slog.String("topic", topic),
		slog.Duration("latency", time.Since(start)),
		slog.Int("response_length", len(content)))
	if err != nil {
		return nil, fmt.Errorf("research %q: %w: %s: %v", topic, apperr.ErrFetch, Cause(err), err)
	}

	res, err := parseResearch(content)
	if err != nil {
		return nil, fmt.Errorf("research %q: %w: %v", topic, apperr.ErrFetch, err)
	}
	return res, nil
}

// Classify asks the cheaper model which titles relate to text.
func (o *OpenAI) Classify(ctx context.Context, text string, titles []string) ([]string, error) {
	if len(titles) == 0 {
		return nil, nil
	}
	req := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.classifierModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a helpful assistant that identifies relevant connections between research notes."),
			openai.UserMessage(classifyPrompt(text, titles)),
		},
		MaxTokens:   openai.Int(classifierMaxTokens),
		Temperature: openai.Float(classifierTemperature),
	}

	content, err := o.complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classify: %w: %s: %v", apperr.ErrClassificationUnavailable, Cause(err), err)
	}
	return parseClassification(content), nil
}

func (o *OpenAI) complete(ctx context.Context, req openai.ChatCompletionNewParams) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

func researchPrompt(topic string) string {
	return fmt.Sprintf(`Research the topic: %q

Keep the research shallow and brief:
- a summary of 2-3 sentences, under 200 words
- 3-5 key points only, as a Markdown bullet list
- 2-3 related concepts that deserve their own note (people, places, theories, events, key terms)
- 1-2 questions for future research
- do not add [[wiki links]] yourself; they are added automatically

Return a JSON object with exactly these fields:
{
  "summary": "string",
  "content": "Markdown bullet list of key points",
  "action_items": ["string"],
  "questions": ["string"],
  "external_links": ["https://..."],
  "concepts": ["Concept spelled exactly as it appears in summary or content"]
}
Do not include the topic itself or generic words like "research" or "method" in concepts.`, topic)
}

func classifyPrompt(text string, titles []string) string {
	quoted := make([]string, len(titles))
	for i, t := range titles {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return fmt.Sprintf(`Given this research content:

%s...

And these existing note titles:
[%s]

Which existing notes (if any) should be linked to this new content?
Return only the titles that are directly relevant, separated by commas.
If none are relevant, return "none".`, truncate(text, classifierContextChars), strings.Join(quoted, ", "))
}

// parseResearch decodes the model's JSON answer, tolerating prose around
// the object.
func parseResearch(content string) (*Result, error) {
	raw := strings.TrimSpace(content)
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &res); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
	}
	if res.Empty() {
		return nil, errors.New("empty response")
	}
	res.ActionItems = compact(res.ActionItems)
	res.Questions = compact(res.Questions)
	res.ExternalLinks = compact(res.ExternalLinks)
	res.Concepts = compact(res.Concepts)
	return &res, nil
}

// parseClassification splits a comma separated answer. "none" and an empty
// answer yield nil.
func parseClassification(answer string) []string {
	answer = strings.TrimSpace(answer)
	if answer == "" || strings.EqualFold(strings.Trim(answer, `."'`), "none") {
		return nil
	}
	fields := strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimLeft(f, "-*• ")
		f = strings.TrimPrefix(f, "[[")
		f = strings.TrimSuffix(f, "]]")
		f = strings.Trim(f, "\"'` ")
		if f != "" && !strings.EqualFold(f, "none") {
			out = append(out, f)
		}
	}
	return out
}

func compact(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
