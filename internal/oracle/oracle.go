// internal/oracle/oracle.go
package oracle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/metrics"
)

// Options tunes how the oracle talks to the model.
type Options struct {
	// SchemaAttempts is the number of generations tried before giving up on
	// undecodable output.
	SchemaAttempts int
	HistoryWindow  int
	Temperature    float64
	MaxTokens      int

	// VisionTemperature is used for AnalyzeImage.
	VisionTemperature float64
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{
		SchemaAttempts:    3,
		HistoryWindow:     5,
		Temperature:       0.3,
		MaxTokens:         500,
		VisionTemperature: 0.5,
	}
}

// LLMOracle turns observations into actions using an LLM client.
type LLMOracle struct {
	client  schemas.LLMClient
	opts    Options
	metrics *metrics.Collector
	logger  *zap.Logger
}

var _ schemas.Oracle = (*LLMOracle)(nil)

// New creates an oracle. Zero option fields fall back to defaults.
func New(client schemas.LLMClient, opts Options, collector *metrics.Collector, logger *zap.Logger) *LLMOracle {
	def := DefaultOptions()
	if opts.SchemaAttempts <= 0 {
		opts.SchemaAttempts = def.SchemaAttempts
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = def.HistoryWindow
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMOracle{
		client:  client,
		opts:    opts,
		metrics: collector,
		logger:  logger.Named("oracle"),
	}
}

// GenerateAction asks the model for the next action. Undecodable output is
// fed back with a correction and retried; once attempts run out the error
// wraps schemas.ErrInvalidActionSchema. Provider errors are returned at once.
func (o *LLMOracle) GenerateAction(ctx context.Context, observation string, goals []string, history []schemas.HistoryEntry) (proposal schemas.ActionProposal, err error) {
	start := time.Now()
	defer func() { o.metrics.OracleCall("generate_action", err, time.Since(start)) }()

	req := schemas.GenerationRequest{
		SystemPrompt: SystemPrompt(goals),
		UserPrompt:   UserPrompt(observation, goals, history, o.opts.HistoryWindow),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     o.opts.Temperature,
			MaxTokens:       o.opts.MaxTokens,
		},
	}

	var lastErr error
	for attempt := 1; attempt <= o.opts.SchemaAttempts; attempt++ {
		response, genErr := o.client.Generate(ctx, req)
		if genErr != nil {
			return schemas.ActionProposal{}, fmt.Errorf("LLM provider request failed: %w", genErr)
		}

		proposal, lastErr = parseProposal(response)
		if lastErr == nil {
			if proposal.Reasoning == "" {
				proposal.Reasoning = DefaultReasoning(proposal.Action)
			}
			o.logger.Debug("Action generated.",
				zap.String("action", proposal.Action.Type().String()),
				zap.Int("attempt", attempt))
			return proposal, nil
		}

		o.logger.Warn("Failed to parse action JSON.",
			zap.Int("attempt", attempt),
			zap.String("raw_response", response),
			zap.Error(lastErr))
		if attempt < o.opts.SchemaAttempts {
			o.metrics.OracleSchemaRetry()
			req.History = append(req.History,
				schemas.ChatTurn{Role: "assistant", Content: response},
				schemas.ChatTurn{Role: "user", Content: CorrectionMessage},
			)
		}
	}
	return schemas.ActionProposal{}, fmt.Errorf("%w: %v", schemas.ErrInvalidActionSchema, lastErr)
}

// AnalyzeImage asks the powerful tier a question about a PNG image.
func (o *LLMOracle) AnalyzeImage(ctx context.Context, png []byte, prompt string) (answer string, err error) {
	start := time.Now()
	defer func() { o.metrics.OracleCall("analyze_image", err, time.Since(start)) }()

	if len(png) == 0 {
		return "", errors.New("no image supplied for vision analysis")
	}
	req := schemas.GenerationRequest{
		UserPrompt: prompt,
		Images:     []schemas.ImagePart{{MIMEType: "image/png", Data: png}},
		Tier:       schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature: o.opts.VisionTemperature,
			MaxTokens:   o.opts.MaxTokens,
		},
	}
	answer, err = o.client.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision analysis failed: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// DefaultReasoning is used when the model gives none.
func DefaultReasoning(a schemas.Action) string {
	return fmt.Sprintf("Executing %s to progress towards goals", a.Type())
}

var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON pulls a JSON object out of a fenced block or surrounding prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	if m := jsonBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last > first {
		return response[first : last+1]
	}
	return response
}

func parseProposal(response string) (schemas.ActionProposal, error) {
	raw := extractJSON(response)
	if raw == "" {
		return schemas.ActionProposal{}, errors.New("could not find any JSON in the LLM response")
	}
	return schemas.ParseProposal([]byte(raw))
}
