// Package planner turns a user instruction plus memory context into an
// executable plan through a single LLM chat completion. The planner keeps
// no state between calls; memory conditioning flows in through the prompt
// only.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkoukk/tiktoken-go"

	"deskjarvis/agent/internal/llmtypes"
	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const (
	planTimeout   = 60 * time.Second
	maxPlanTokens = 4000

	// defaultPromptBudget caps the whole prompt; the memory-context block
	// is trimmed first when the budget is exceeded.
	defaultPromptBudget = 6000

	tokenEncoding   = "cl100k_base"
	truncatedSuffix = "\n...(记忆已截断)"

	memorySectionHeader = "## Memory context\n"
)

// Config tunes one planner instance.
type Config struct {
	// Temperature for the planning call. Zero keeps the provider default.
	Temperature float64
	// PromptBudget is the prompt token ceiling. Zero uses the default.
	PromptBudget int
}

// Planner issues planning calls against one model.
type Planner struct {
	model llmtypes.Model
	cfg   Config
	log   logger.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// New creates a planner bound to the given model.
func New(model llmtypes.Model, cfg Config, log logger.Logger) *Planner {
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = defaultPromptBudget
	}
	return &Planner{model: model, cfg: cfg, log: log}
}

// planResponse is the JSON contract the model must satisfy.
type planResponse struct {
	Steps []types.Step `json:"steps" jsonschema:"required,description=Ordered list of executable steps"`
}

// Plan asks the model for a plan. A failed call or an unparsable reply
// yields an empty plan alongside the error; callers surface that as a
// planning failure rather than crashing the task.
func (p *Planner) Plan(ctx context.Context, instruction string, memoryContext string) (types.Plan, error) {
	system := systemPrompt()
	user := p.buildUserPrompt(instruction, memoryContext, system)

	callCtx, cancel := context.WithTimeout(ctx, planTimeout)
	defer cancel()

	messages := []llmtypes.MessageContent{
		llmtypes.TextPart(llmtypes.ChatMessageTypeSystem, system),
		llmtypes.TextPart(llmtypes.ChatMessageTypeHuman, user),
	}
	opts := []llmtypes.CallOption{
		llmtypes.WithJSONMode(),
		llmtypes.WithMaxTokens(maxPlanTokens),
	}
	if p.cfg.Temperature > 0 {
		opts = append(opts, llmtypes.WithTemperature(p.cfg.Temperature))
	}

	start := time.Now()
	resp, err := p.model.GenerateContent(callCtx, messages, opts...)
	if err != nil {
		return types.Plan{}, fmt.Errorf("planning call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return types.Plan{}, fmt.Errorf("planning call returned no content")
	}

	plan, err := ParsePlan(resp.Choices[0].Content)
	if err != nil {
		p.log.Warnf("Plan parse failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return types.Plan{}, err
	}
	p.log.Infof("Planner produced %d step(s) in %s", len(plan.Steps), time.Since(start).Round(time.Millisecond))
	return plan, nil
}

// buildUserPrompt assembles the human message, fitting the memory context
// into whatever token budget the fixed parts leave over.
func (p *Planner) buildUserPrompt(instruction string, memoryContext string, system string) string {
	base := "User instruction: " + instruction + "\n\nRespond with the JSON plan."
	memoryContext = strings.TrimSpace(memoryContext)
	if memoryContext == "" {
		return base
	}

	fixed := p.countTokens(system) + p.countTokens(base) + p.countTokens(memorySectionHeader)
	fitted := p.fitTokens(memoryContext, p.cfg.PromptBudget-fixed)
	if fitted == "" {
		p.log.Debugf("Memory context dropped, prompt budget %d exhausted by fixed sections", p.cfg.PromptBudget)
		return base
	}
	return memorySectionHeader + fitted + "\n\n" + base
}

// countTokens measures text with tiktoken, estimating from byte length
// when the encoding tables are unavailable.
func (p *Planner) countTokens(text string) int {
	if enc := p.encoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// fitTokens returns text unchanged when it fits in allowed tokens,
// otherwise a truncated copy carrying the truncation marker.
func (p *Planner) fitTokens(text string, allowed int) string {
	if allowed <= 0 {
		return ""
	}
	enc := p.encoder()
	if enc == nil {
		if len(text)/4+1 <= allowed {
			return text
		}
		keep := (allowed - len(truncatedSuffix)/4 - 1) * 4
		if keep <= 0 {
			return ""
		}
		return truncateBytesRuneSafe(text, keep) + truncatedSuffix
	}

	toks := enc.Encode(text, nil, nil)
	if len(toks) <= allowed {
		return text
	}
	keep := allowed - len(enc.Encode(truncatedSuffix, nil, nil))
	if keep <= 0 {
		return ""
	}
	cut := strings.ToValidUTF8(enc.Decode(toks[:keep]), "")
	return cut + truncatedSuffix
}

func (p *Planner) encoder() *tiktoken.Tiktoken {
	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			p.log.Warnf("Token encoder unavailable, estimating token counts: %v", err)
			return
		}
		p.enc = enc
	})
	return p.enc
}

func truncateBytesRuneSafe(s string, max int) string {
	if len(s) <= max {
		return s
	}
	out := make([]rune, 0, max/2)
	size := 0
	for _, r := range s {
		size += len(string(r))
		if size > max {
			break
		}
		out = append(out, r)
	}
	return string(out)
}

const (
	stepCataloguePlaceholder = "{{STEP_CATALOGUE}}"
	stepSchemaPlaceholder    = "{{STEP_SCHEMA}}"
)

const systemPromptTemplate = `You are DeskJarvis, a desktop automation planner. Convert the user's instruction into an executable plan: a JSON object with a "steps" array. Each step is dispatched to a local executor by its "type".

## Available step types

{{STEP_CATALOGUE}}

## Referencing earlier results

A parameter value may reference data produced by an earlier step using the placeholder syntax {{stepN.path}} with 1-based step numbers:
- {{step1.file_path}} reads data.file_path from step 1's result
- {{step2.emails[0].subject}} indexes into a list
- {{step3.result[0].id}} walks nested structures
The path is resolved against the "data" object of the referenced step's result. Only reference fields the earlier step actually produces, and never reference a later step.

## Sensitive operations

Prefix the "description" of any destructive or irreversible step (deleting files, overwriting content, sending email, closing unsaved work) with [SENSITIVE]. The user must confirm such steps before they run.

## Output contract

Return ONLY a JSON object matching this schema. No markdown fences, no commentary.

{{STEP_SCHEMA}}

Rules:
- "type" must be one of the step types listed above.
- "params" must contain concrete values extracted from the instruction; never emit placeholders like [APP_NAME], TODO or "extract_from_context".
- Use the fewest steps that satisfy the instruction.
- Write each "description" in the user's language.
- If the instruction cannot be satisfied with the available step types, return {"steps": []}.`

var (
	systemOnce sync.Once
	systemText string
)

// systemPrompt renders the planning system prompt once per process; the
// catalogue and schema are static.
func systemPrompt() string {
	systemOnce.Do(func() {
		s := systemPromptTemplate
		s = strings.ReplaceAll(s, stepCataloguePlaceholder, RenderCatalogue())
		s = strings.ReplaceAll(s, stepSchemaPlaceholder, planSchemaJSON())
		systemText = s
	})
	return systemText
}

func planSchemaJSON() string {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true
	r.RequiredFromJSONSchemaTags = true
	schema := r.Reflect(&planResponse{})

	payload, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return `{"type":"object","properties":{"steps":{"type":"array"}},"required":["steps"]}`
	}
	return string(payload)
}
