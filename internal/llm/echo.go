package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EchoModel is the only model name EchoGenerator accepts.
const EchoModel = "echo"

// EchoGenerator answers offline by returning the context section of the prompt. It keeps
// the service usable without an API key.
type EchoGenerator struct{}

// Generate returns the text between "Context:" and "Question:" (or the whole prompt).
// Token counts are estimated at four characters per token; cost is zero.
func (EchoGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Model != "" && req.Model != EchoModel {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, req.Model)
	}
	started := time.Now()
	text := req.Prompt
	if i := strings.Index(text, "Context:"); i >= 0 {
		text = text[i+len("Context:"):]
		if j := strings.Index(text, "Question:"); j >= 0 {
			text = text[:j]
		}
	}
	text = strings.TrimSpace(text)
	return &Response{
		Text:         text,
		Model:        EchoModel,
		PromptTokens: (len(req.Prompt) + 3) / 4,
		OutputTokens: (len(text) + 3) / 4,
		Latency:      time.Since(started),
	}, nil
}

func (EchoGenerator) Models() []string { return []string{EchoModel} }

func (EchoGenerator) DefaultModel() string { return EchoModel }
