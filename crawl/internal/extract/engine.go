// CLAUDE:SUMMARY Extraction engine: prepare input, call the Model once, parse candidates; transport vs parse failures are distinct.
// Package extract turns raw page content into candidate booth records with an LLM.
//
// The model is a black box behind the Model interface. A transport failure is
// returned as *ExtractionError and may be retried by the caller; output that
// cannot be parsed is not an error return but an Extraction with ParseErr set
// and no candidates, since re-asking the same prompt rarely helps.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl/internal/record"
)

// DefaultMaxInputChars bounds the content embedded in one prompt.
const DefaultMaxInputChars = 60_000

// Model is a text-to-text LLM backend.
type Model interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ErrNoModel is returned when the engine has no backend.
var ErrNoModel = errors.New("extract: no model configured")

// ExtractionError is a failure to obtain model output.
type ExtractionError struct {
	Transport bool
	Err       error
}

func (e *ExtractionError) Error() string {
	kind := "model"
	if e.Transport {
		kind = "transport"
	}
	return fmt.Sprintf("extract: %s: %v", kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Input is one page to extract from.
type Input struct {
	SourceID string
	URL      string
	Body     string
	Format   string // markdown | html
}

// Extraction is the outcome of one extraction call.
type Extraction struct {
	Candidates []record.Candidate
	// ParseErr is set when the model answered but no record array could be
	// read. Candidates is empty in that case.
	ParseErr  *ParseError
	Truncated bool
	Duration  time.Duration
}

// Config configures the engine.
type Config struct {
	MaxInputChars int
	Logger        *slog.Logger
}

// Engine runs extractions against a Model.
type Engine struct {
	model  Model
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil model makes every call fail with ErrNoModel.
func NewEngine(model Model, cfg Config) *Engine {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{model: model, cfg: cfg, now: time.Now, logger: cfg.Logger}
}

// Ready reports whether a model is configured.
func (e *Engine) Ready() bool { return e.model != nil }

// Extract runs one model call over in.
func (e *Engine) Extract(ctx context.Context, in Input, strategy string) (*Extraction, error) {
	if e.model == nil {
		return nil, ErrNoModel
	}
	start := e.now()

	content, truncated := Prepare(in.Body, in.Format, e.cfg.MaxInputChars)
	if truncated {
		e.logger.Debug("extract: input truncated",
			"source_id", in.SourceID, "url", in.URL, "from", len(in.Body), "to", len(content))
	}
	prompt := BuildPrompt(strategy, in.URL, content, truncated)

	text, err := e.model.Complete(ctx, prompt)
	if err != nil {
		return nil, &ExtractionError{Transport: true, Err: err}
	}

	out := &Extraction{Truncated: truncated}
	cands, err := ParseCandidates(text)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			pe = &ParseError{Reason: err.Error()}
		}
		out.ParseErr = pe
		e.logger.Warn("extract: unparseable model output",
			"source_id", in.SourceID, "url", in.URL, "error", pe)
	}
	ts := e.now()
	for i := range cands {
		cands[i].SourceID = in.SourceID
		cands[i].SourceURL = in.URL
		cands[i].ExtractedAt = ts
	}
	out.Candidates = cands
	out.Duration = ts.Sub(start)
	return out, nil
}
