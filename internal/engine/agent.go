package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wheelhousehq/wheelhouse/internal/apperrors"
)

const (
	opClick    = "click"
	opFill     = "fill"
	opPress    = "press"
	opNavigate = "navigate"
	opNone     = "none"
)

const planSystemPrompt = `You control a web page through single commands. Given the current
page state and an instruction, respond with exactly one JSON object and nothing else:
  {"op":"click","selector":"<css selector>","message":"<what you did>"}
  {"op":"fill","selector":"<css selector>","value":"<text>","message":"<what you did>"}
  {"op":"press","selector":"<css selector>","value":"<key, e.g. Enter>","message":"<what you did>"}
  {"op":"navigate","url":"<absolute url>","message":"<what you did>"}
  {"op":"none","message":"<why the instruction cannot be performed>"}
Selectors must match one of the listed elements. Use "none" when nothing on the page fits.`

const extractSystemPrompt = `You extract structured data from web page text. Respond with exactly
one JSON object conforming to the JSON schema in the user message and nothing else. Use null for
values the page does not contain.`

// pageCommand is the single action the model picks for an instruction.
type pageCommand struct {
	Op       string `json:"op"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	URL      string `json:"url,omitempty"`
	Message  string `json:"message,omitempty"`
}

// defaultExtractSchema is used when the caller supplies no schema.
var defaultExtractSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"data": map[string]any{"type": "string"},
	},
	"required": []any{"data"},
}

type agent struct {
	client openai.Client
	model  string
}

func newAgent(cfg Config) *agent {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &agent{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (a *agent) plan(ctx context.Context, instruction string, snap *pageSnapshot) (*pageCommand, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n\nInteractive elements:\n", snap.URL, snap.Title)
	for _, el := range snap.Elements {
		b.WriteString(el)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nInstruction: %s", instruction)

	raw, err := a.complete(ctx, planSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var cmd pageCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return nil, ErrAction.Msg("model returned malformed command").Err(err)
	}
	switch cmd.Op {
	case opClick, opFill, opPress:
		if cmd.Selector == "" {
			return nil, ErrAction.Msg(fmt.Sprintf("model returned %s command without selector", cmd.Op))
		}
	case opNavigate:
		if cmd.URL == "" {
			return nil, ErrAction.Msg("model returned navigate command without url")
		}
	}
	return &cmd, nil
}

func (a *agent) extract(ctx context.Context, instruction string, schema map[string]any, pageText string) (map[string]any, error) {
	if schema == nil {
		schema = defaultExtractSchema
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, apperrors.New("unable to encode extraction schema").Err(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "JSON schema:\n%s\n\nPage text:\n%s", schemaJSON, pageText)
	if instruction != "" {
		fmt.Fprintf(&b, "\n\nInstruction: %s", instruction)
	}

	raw, err := a.complete(ctx, extractSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, ErrAction.Msg("model returned malformed extraction").Err(err)
	}
	if err := compiled.Validate(map[string]any(result)); err != nil {
		return nil, ErrAction.Msg("extraction does not match requested schema").Err(err)
	}
	return result, nil
}

func (a *agent) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: a.model,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrAction.Msg("model request failed").Err(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrAction.Msg("model returned no choices")
	}
	return stripFence(resp.Choices[0].Message.Content), nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, ErrBadInput.Msg("schema is not valid JSON").Err(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, ErrBadInput.Msg("schema is not valid JSON Schema").Err(err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, ErrBadInput.Msg("schema is not valid JSON Schema").Err(err)
	}
	return compiled, nil
}

// stripFence removes a markdown code fence if the model wrapped its JSON in one.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
