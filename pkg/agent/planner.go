package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/theredstring/redstring-bridge/pkg/config"
	"github.com/theredstring/redstring-bridge/pkg/llm"
	"github.com/theredstring/redstring-bridge/pkg/models"
	"github.com/theredstring/redstring-bridge/pkg/store"
	"github.com/theredstring/redstring-bridge/pkg/trace"
)

// Context budget for planner calls.
const (
	maxContextNodeNames = 15
	maxConversationTurn = 3
)

// PlanRequest is one planner invocation.
type PlanRequest struct {
	Message             string
	CID                 string
	APIKey              string
	APIConfig           *models.APIConfig
	ConversationHistory []models.ChatTurn
	IsTest              bool
}

// Planner turns a user message plus graph context into a validated Plan.
type Planner struct {
	caller  *llm.Caller
	store   *store.Store
	prompts config.Prompts
	tracer  *trace.Tracer
	logger  *slog.Logger
}

// NewPlanner wires the planner against its collaborators.
func NewPlanner(caller *llm.Caller, st *store.Store, prompts config.Prompts, tracer *trace.Tracer, logger *slog.Logger) *Planner {
	return &Planner{caller: caller, store: st, prompts: prompts, tracer: tracer, logger: logger}
}

// Plan calls the model and parses its response into a Plan. The system
// prompt is [hidden, domain appendix, planner prompt] plus a context block
// describing the active graph. Conversational preamble preceding the JSON
// is prepended to plan.Response.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (models.Plan, error) {
	provider, model, fallbacks, baseURL := resolveAPIConfig(req.APIConfig)

	p.tracer.StartTrace(req.CID, req.Message, map[string]any{"model": model})
	p.tracer.RecordStage(req.CID, trace.StagePlanner, map[string]any{"model": model})

	system := p.prompts.SystemPrompt() + "\n\n" + p.contextBlock()

	messages := make([]llm.Message, 0, maxConversationTurn+1)
	history := req.ConversationHistory
	if len(history) > maxConversationTurn {
		history = history[len(history)-maxConversationTurn:]
	}
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Message})

	raw, err := p.caller.Complete(ctx, provider, llm.Request{
		Model:    model,
		APIKey:   req.APIKey,
		BaseURL:  baseURL,
		System:   system,
		Messages: messages,
	}, fallbacks)
	if err != nil {
		p.tracer.CompleteStage(req.CID, trace.StagePlanner, trace.StatusError, map[string]any{"error": err.Error()})
		return models.Plan{}, fmt.Errorf("planner: %w", err)
	}

	plan, err := ParsePlan(raw)
	if err != nil {
		p.tracer.CompleteStage(req.CID, trace.StagePlanner, trace.StatusError, map[string]any{"error": err.Error()})
		return models.Plan{}, err
	}

	p.tracer.CompleteStage(req.CID, trace.StagePlanner, trace.StatusSuccess, map[string]any{"intent": string(plan.Intent)})
	p.logger.Debug("planner produced plan",
		slog.String("cid", req.CID), slog.String("intent", string(plan.Intent)))
	return plan, nil
}

// Evaluate runs the continuation evaluation prompt: the model decides
// whether the agentic loop should continue with another phase.
func (p *Planner) Evaluate(ctx context.Context, meta *models.GoalMeta, graphState models.GraphState) (models.Plan, error) {
	var apiConfig *models.APIConfig
	apiKey := ""
	if meta != nil {
		apiConfig = meta.APIConfig
		apiKey = meta.APIKey
	}
	provider, model, fallbacks, baseURL := resolveAPIConfig(apiConfig)

	stateJSON, _ := json.Marshal(graphState)
	prompt := fmt.Sprintf("Original request: %s\nCurrent graph state: %s", originalMessage(meta), stateJSON)

	raw, err := p.caller.Complete(ctx, provider, llm.Request{
		Model:    model,
		APIKey:   apiKey,
		BaseURL:  baseURL,
		System:   p.prompts.Evaluation,
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	}, fallbacks)
	if err != nil {
		return models.Plan{}, fmt.Errorf("evaluation: %w", err)
	}
	return ParsePlan(raw)
}

// ParsePlan extracts and validates the JSON plan from a raw model
// response, folding any preamble text into Response.
func ParsePlan(raw string) (models.Plan, error) {
	obj, preamble, ok := llm.ExtractJSON(raw)
	if !ok {
		// No JSON at all: treat the whole response as conversational.
		return models.Plan{Intent: models.IntentQA, Response: strings.TrimSpace(raw)}, nil
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return models.Plan{}, fmt.Errorf("plan re-encode: %w", err)
	}
	var plan models.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return models.Plan{}, fmt.Errorf("plan decode: %w", err)
	}

	if preamble != "" && !strings.Contains(plan.Response, preamble) {
		if plan.Response == "" {
			plan.Response = preamble
		} else {
			plan.Response = preamble + " " + plan.Response
		}
	}
	return plan, nil
}

// contextBlock renders the active graph for the model: name, up to
// maxContextNodeNames node names, and the palette of colors in use.
func (p *Planner) contextBlock() string {
	var sb strings.Builder
	sb.WriteString("Current context:\n")

	activeID := p.store.ActiveGraphID()
	if activeID == "" {
		sb.WriteString("No graph is currently active.\n")
		return sb.String()
	}

	st := p.store.GraphState(activeID, maxContextNodeNames)
	fmt.Fprintf(&sb, "Active graph: %q (%d nodes, %d edges)\n", st.GraphName, st.NodeCount, st.EdgeCount)
	if len(st.NodeNames) > 0 {
		fmt.Fprintf(&sb, "Nodes: %s\n", strings.Join(st.NodeNames, ", "))
	}
	if palette := p.colorPalette(); len(palette) > 0 {
		fmt.Fprintf(&sb, "Color palette in use: %s\n", strings.Join(palette, ", "))
	}
	return sb.String()
}

// colorPalette collects the distinct prototype colors already in use so
// new nodes stay visually consistent.
func (p *Planner) colorPalette() []string {
	seen := make(map[string]bool)
	for _, proto := range p.store.State().NodePrototypes {
		if proto.Color != "" && !seen[proto.Color] {
			seen[proto.Color] = true
		}
	}
	palette := make([]string, 0, len(seen))
	for c := range seen {
		palette = append(palette, c)
	}
	sort.Strings(palette)
	return palette
}

func resolveAPIConfig(cfg *models.APIConfig) (provider, model string, fallbacks []string, baseURL string) {
	if cfg != nil {
		provider = cfg.Provider
		model = cfg.Model
		fallbacks = cfg.FallbackModels
		baseURL = cfg.BaseURL
	}
	if model == "" {
		model = llm.DefaultFallbackModels[0]
	}
	return provider, model, fallbacks, baseURL
}

func originalMessage(meta *models.GoalMeta) string {
	if meta == nil {
		return ""
	}
	return meta.OriginalMessage
}
