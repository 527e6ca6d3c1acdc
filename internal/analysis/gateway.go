package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joelkehle/patent-insight/internal/fault"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Gateway is the narrow seam to the model provider. Implementations
// return fault errors: RateLimited and Timeout for transient transport
// failures, MalformedResponse when the reply does not satisfy the
// schema.
type Gateway interface {
	Analyze(ctx context.Context, req StageRequest) (StageResponse, error)
	ModelName() string
}

type anthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicGateway calls the Anthropic Messages API at temperature 0 and
// parses the strict-JSON reply.
type AnthropicGateway struct {
	messages anthropicMessager
	model    string
}

func NewAnthropicGatewayFromEnv() (*AnthropicGateway, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	model := strings.TrimSpace(os.Getenv("PATENT_INSIGHT_MODEL"))
	if model == "" {
		model = DefaultModel
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicGateway{messages: &c.Messages, model: model}, nil
}

func (g *AnthropicGateway) ModelName() string { return g.model }

func (g *AnthropicGateway) Analyze(ctx context.Context, req StageRequest) (StageResponse, error) {
	resp, err := g.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   4096,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req)))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return StageResponse{}, classifyTransportError(req.Stage, err)
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return parseStageResponse(req.Stage, sb.String())
}

// parseStageResponse decodes the model reply and validates it against
// the schema. Any shape violation is a MalformedResponse.
func parseStageResponse(stage StageKind, raw string) (StageResponse, error) {
	clean := stripCodeFences(raw)
	if clean == "" {
		return StageResponse{}, fault.New(fault.MalformedResponse, fmt.Sprintf("%s stage returned an empty response", stage))
	}
	var out StageResponse
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return StageResponse{}, fault.Wrap(fault.MalformedResponse, fmt.Sprintf("%s stage returned invalid JSON", stage), err)
	}
	if err := validateStageResponse(out); err != nil {
		return StageResponse{}, fault.Wrap(fault.MalformedResponse, fmt.Sprintf("%s stage response failed validation", stage), err)
	}
	return out, nil
}

func validateStageResponse(r StageResponse) error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	for i, f := range r.Findings {
		if strings.TrimSpace(f.ClaimText) == "" {
			return fmt.Errorf("finding %d has empty claim_text", i)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return fmt.Errorf("finding %d confidence %v outside [0,1]", i, f.Confidence)
		}
		for _, idx := range f.SupportingSectionIndices {
			if idx < 0 {
				return fmt.Errorf("finding %d cites negative section index %d", i, idx)
			}
		}
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

var statusCodeRe = regexp.MustCompile(`status(?:\s+code)?[:=\s]+(\d{3})`)

// classifyTransportError maps provider and network failures onto the
// fault taxonomy. 429 is RateLimited; deadline, network-timeout, and
// server-side failures surface as Timeout since both are retried the
// same way.
func classifyTransportError(stage StageKind, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, fmt.Sprintf("%s stage call timed out", stage), err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fault.Wrap(fault.Timeout, fmt.Sprintf("%s stage call timed out", stage), err)
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		if strings.HasPrefix(m[1], "429") {
			return fault.Wrap(fault.RateLimited, fmt.Sprintf("%s stage was rate limited", stage), err)
		}
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "overloaded") {
		return fault.Wrap(fault.RateLimited, fmt.Sprintf("%s stage was rate limited", stage), err)
	}
	return fault.Wrap(fault.Timeout, fmt.Sprintf("%s stage transport failure", stage), err)
}
