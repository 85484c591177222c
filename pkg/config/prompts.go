package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Prompts holds the opaque prompt strings for the planner and the
// continuation evaluator. They are configuration, not code: loaded once at
// startup and never emitted on any response path.
type Prompts struct {
	// Hidden is the fixed hidden system prompt.
	Hidden string

	// DomainAppendix describes the knowledge-graph domain to the model.
	DomainAppendix string

	// Planner is the configurable planner prompt.
	Planner string

	// Evaluation asks the model to decide continue/complete for the
	// agentic loop.
	Evaluation string
}

// Prompt file names looked up under the config directory.
const (
	hiddenPromptFile     = "hidden_prompt.txt"
	domainAppendixFile   = "domain_appendix.txt"
	plannerPromptFile    = "planner_prompt.txt"
	evaluationPromptFile = "evaluation_prompt.txt"
)

// LoadPrompts reads prompt files from configDir. Missing files fall back to
// minimal built-in strings with a warning — the server must be able to start
// in dev environments without a config directory.
func LoadPrompts(configDir string) (Prompts, error) {
	return Prompts{
		Hidden:         loadPromptFile(configDir, hiddenPromptFile, defaultHiddenPrompt),
		DomainAppendix: loadPromptFile(configDir, domainAppendixFile, defaultDomainAppendix),
		Planner:        loadPromptFile(configDir, plannerPromptFile, defaultPlannerPrompt),
		Evaluation:     loadPromptFile(configDir, evaluationPromptFile, defaultEvaluationPrompt),
	}, nil
}

func loadPromptFile(configDir, name, fallback string) string {
	if configDir == "" {
		return fallback
	}
	path := filepath.Join(configDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Prompt file not found, using built-in fallback", "path", path)
		return fallback
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return fallback
	}
	return content
}

// SystemPrompt assembles the full planner system prompt.
func (p Prompts) SystemPrompt() string {
	parts := []string{p.Hidden, p.DomainAppendix, p.Planner}
	nonEmpty := parts[:0]
	for _, s := range parts {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// Built-in fallbacks keep the server bootable without a config directory.
// Deployments override these with real prompt files.
const (
	defaultHiddenPrompt = "You are the planning engine of a knowledge-graph editor. " +
		"Respond with a single JSON object containing an \"intent\" field."

	defaultDomainAppendix = "Graphs contain node prototypes (reusable concepts) and node " +
		"instances (placed occurrences). Edges connect instances and may carry a defining concept."

	defaultPlannerPrompt = "Decide the user's intent and emit the matching JSON payload. " +
		"Unknown requests are answered conversationally with intent \"qa\"."

	defaultEvaluationPrompt = "Given the current graph state, decide whether to continue " +
		"expanding the graph. Respond with JSON: {\"decision\": \"continue\"|\"complete\", " +
		"\"response\": string, \"graphSpec\"?: object}."
)
