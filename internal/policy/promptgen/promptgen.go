// Package promptgen implements the Prompt Generator: renders
// phase-specific guidance templates with `{{var}}` substitution and
// `{{#if var}}...{{/if}}` / `{{#if var}}...{{else}}...{{/if}}` conditionals,
// falling back to a deterministic status block on any rendering error.
package promptgen

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// maxConditionalIterations bounds the fixpoint loop that resolves nested
// conditionals, innermost first, preventing non-termination on malformed
// templates.
const maxConditionalIterations = 10

var varPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Result carries the rendered text plus any non-fatal warnings (missing
// variables) in a `{success, value, warnings}`-shaped surface.
type Result struct {
	Text     string
	Warnings []string
	Fallback bool
}

// StatusCounters is the minimal state needed to build the fallback block
// when rendering fails critically.
type StatusCounters struct {
	Phase           string
	ToolCallsTotal  int
	ModificationCount int
	TestsRunCount   int
}

// Vars holds the substitution/conditional values for one render call.
// A value is "truthy" for {{#if}} purposes per isTruthy below.
type Vars map[string]any

// Set is a collection of phase templates with optional per-repository
// overrides. Template choice defaults per phase and may be overridden
// per repository.
type Set struct {
	defaults  map[string]string            // phase -> template
	overrides map[string]map[string]string // repo -> phase -> template
}

// NewSet builds a Set from the given default per-phase templates.
func NewSet(defaults map[string]string) *Set {
	return &Set{
		defaults:  defaults,
		overrides: make(map[string]map[string]string),
	}
}

// SetOverride registers a repository-specific template for phase.
func (s *Set) SetOverride(repo, phase, template string) {
	if s.overrides[repo] == nil {
		s.overrides[repo] = make(map[string]string)
	}
	s.overrides[repo][phase] = template
}

// Render chooses the template for (repo, phase), falling back to the
// phase default, then renders it against vars. Any critical rendering
// error returns a deterministic fallback block stating the phase and the
// current status counters instead of propagating the error to the caller.
func (s *Set) Render(repo, phase string, vars Vars, status StatusCounters) Result {
	tmpl, ok := s.templateFor(repo, phase)
	if !ok {
		slog.Warn("promptgen: no template registered for phase, using fallback", "phase", phase)
		return Result{Text: fallbackBlock(status), Fallback: true}
	}

	text, warnings, err := render(tmpl, vars)
	if err != nil {
		slog.Warn("promptgen: template render failed, using fallback", "phase", phase, "error", err)
		return Result{Text: fallbackBlock(status), Fallback: true, Warnings: warnings}
	}

	return Result{Text: text, Warnings: warnings}
}

func (s *Set) templateFor(repo, phase string) (string, bool) {
	if byPhase, ok := s.overrides[repo]; ok {
		if t, ok := byPhase[phase]; ok {
			return t, true
		}
	}
	t, ok := s.defaults[phase]
	return t, ok
}

// render resolves conditionals to a fixpoint (innermost first, capped at
// maxConditionalIterations), then substitutes remaining {{var}} placeholders.
func render(tmpl string, vars Vars) (string, []string, error) {
	var warnings []string
	text := tmpl

	for i := 0; i < maxConditionalIterations; i++ {
		next, changed, werr := resolveInnermostConditionals(text, vars)
		warnings = append(warnings, werr...)
		text = next
		if !changed {
			break
		}
	}

	if strings.Contains(text, "{{#if") {
		return "", warnings, fmt.Errorf("unresolved conditional after %d iterations", maxConditionalIterations)
	}

	text = substituteVars(text, vars, &warnings)
	return text, warnings, nil
}

// resolveInnermostConditionals finds every currently-innermost {{#if}}
// block (one containing no further {{#if}} of its own), resolves it
// against vars, and substitutes the chosen branch. One call resolves an
// entire nesting depth; callers loop until no change to reach the fixpoint.
func resolveInnermostConditionals(s string, vars Vars) (string, bool, []string) {
	var warnings []string
	changed := false

	for {
		closeIdx := strings.Index(s, "{{/if}}")
		if closeIdx == -1 {
			break
		}
		openIdx := strings.LastIndex(s[:closeIdx], "{{#if")
		if openIdx == -1 {
			// Unmatched {{/if}} with no opener: drop it rather than loop forever.
			s = s[:closeIdx] + s[closeIdx+len("{{/if}}"):]
			changed = true
			continue
		}

		headEnd := strings.Index(s[openIdx:], "}}")
		if headEnd == -1 {
			break
		}
		headEnd += openIdx

		body := s[headEnd+2 : closeIdx]
		if strings.Contains(body, "{{#if") {
			// Not innermost yet; leave for a later iteration once its own
			// nested block has been resolved.
			break
		}

		varName := strings.TrimSpace(s[openIdx+len("{{#if") : headEnd])
		thenBranch, elseBranch := splitElse(body)

		chosen := elseBranch
		if isTruthy(vars, varName) {
			chosen = thenBranch
		}

		s = s[:openIdx] + chosen + s[closeIdx+len("{{/if}}"):]
		changed = true
	}

	return s, changed, warnings
}

func splitElse(body string) (thenBranch, elseBranch string) {
	if idx := strings.Index(body, "{{else}}"); idx != -1 {
		return body[:idx], body[idx+len("{{else}}"):]
	}
	return body, ""
}

func isTruthy(vars Vars, name string) bool {
	v, ok := vars[name]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	default:
		return true
	}
}

// substituteVars replaces remaining {{var}} placeholders. Missing variables
// render as "[name]" and record a warning rather than failing the render.
func substituteVars(s string, vars Vars, warnings *[]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			*warnings = append(*warnings, fmt.Sprintf("missing variable %q", name))
			return "[" + name + "]"
		}
		return fmt.Sprintf("%v", v)
	})
}

// fallbackBlock is the deterministic fallback rendered on any critical
// error, stating the phase and current status counters.
func fallbackBlock(status StatusCounters) string {
	return fmt.Sprintf(
		"[guidance unavailable]\nphase=%s tool_calls_total=%d modification_count=%d tests_run_count=%d",
		status.Phase, status.ToolCallsTotal, status.ModificationCount, status.TestsRunCount,
	)
}
