// Package testanalysis implements the Test-Command Analyser:
// classifies shell commands and their outputs, scores confidence, and
// tracks a bounded effectiveness history per repository.
package testanalysis

import (
	"regexp"
	"strings"

	"policyengine.dev/core/internal/policy/reporegistry"
)

// Classification is the command category.
type Classification string

const (
	ClassFailToPass Classification = "f2p"
	ClassPassToPass Classification = "p2p"
	ClassDiscovery  Classification = "discovery"
	ClassValidation Classification = "validation"
	ClassExploration Classification = "exploration"
	ClassUnknown    Classification = "unknown"
)

// maxEffectivenessHistory bounds the per-repository effectiveness log.
const maxEffectivenessHistory = 100

var shellSeparators = regexp.MustCompile(`&&|\|\||;`)

// genericTestPatterns is the framework-agnostic fallback pattern family,
// applied when no repository-specific pattern matches.
var genericTestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bpytest\b`),
	regexp.MustCompile(`python\s+-m\s+unittest\b`),
	regexp.MustCompile(`runtests\.py\b`),
	regexp.MustCompile(`\btox\b`),
	regexp.MustCompile(`\bnox\b`),
	regexp.MustCompile(`manage\.py\s+test\b`),
	regexp.MustCompile(`\bmake\s+test\b`),
}

var pipInstallPattern = regexp.MustCompile(`^\s*pip(3)?\s+install\b`)
var runtestsFlagPattern = regexp.MustCompile(`runtests\.py.*(--help|-h|--version)\b`)
var discoveryFlagPattern = regexp.MustCompile(`--help\b|--collect-only\b`)
var testFuncPattern = regexp.MustCompile(`test_|::test_`)

var exitCodePattern = regexp.MustCompile(`Exit code:\s*(-?\d+)`)
var successPattern = regexp.MustCompile(`(?i)\bpassed\b|\bOK\b|\b0 failed\b`)
var failurePattern = regexp.MustCompile(`(?i)\bFAILED\b|\bERROR\b`)
var testNamePattern = regexp.MustCompile(`(?m)^\S+::test_\w+|test_\w+\s+\((?:PASSED|FAILED|ok)\)|(?:PASSED|FAILED)\s+(\S+::test_\w+)`)

// Analysis is the result of classifying and scoring one command.
type Analysis struct {
	Command        string
	IsTestCommand  bool
	Classification Classification
	Confidence     float64
	Reasoning      string
}

// OutputAnalysis is the result of inspecting a command's raw output.
type OutputAnalysis struct {
	Success   bool
	TestNames []string
}

// EffectivenessEntry records one analysed command for the bounded history.
type EffectivenessEntry struct {
	Command        string
	Classification Classification
	Confidence     float64
	Success        bool
}

// Stats summarises an effectiveness history.
type Stats struct {
	Total       int
	SuccessRate float64
	ByClass     map[Classification]int
}

// Analyser classifies commands and tracks effectiveness per repository.
// The zero value is ready to use.
type Analyser struct {
	history map[string][]EffectivenessEntry // repo -> bounded history
}

// New constructs an empty Analyser.
func New() *Analyser {
	return &Analyser{history: make(map[string][]EffectivenessEntry)}
}

// AnalyseCommand classifies cmd against repo cfg using a fixed detection,
// classification and confidence-scoring pipeline.
// A malformed/empty command yields
// is_test_command=false, confidence 0, and an explanatory Reasoning string
// rather than an error return.
func (a *Analyser) AnalyseCommand(cmd string, cfg reporegistry.Config) Analysis {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return Analysis{Command: cmd, Reasoning: "empty command"}
	}

	segments := shellSeparators.Split(trimmed, -1)
	var best Analysis
	foundAny := false

	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || pipInstallPattern.MatchString(seg) {
			continue
		}
		if runtestsFlagPattern.MatchString(seg) {
			continue
		}

		repoMatch := matchesAny(seg, cfg.TestPatterns)
		genericMatch := matchesAny(seg, patternStrings(genericTestPatterns))
		if !repoMatch && !genericMatch {
			continue
		}

		foundAny = true
		class := classify(seg, cfg)
		confidence := scoreConfidence(seg, cfg, repoMatch, genericMatch)

		if !best.IsTestCommand || confidence > best.Confidence {
			best = Analysis{
				Command:        cmd,
				IsTestCommand:  true,
				Classification: class,
				Confidence:     confidence,
				Reasoning:      reasoningFor(class, repoMatch, genericMatch),
			}
		}
	}

	if !foundAny {
		return Analysis{Command: cmd, Reasoning: "no test-command pattern matched any segment"}
	}
	return best
}

func matchesAny(seg string, patterns []string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(seg) {
			return true
		}
	}
	return false
}

func patternStrings(patterns []*regexp.Regexp) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.String()
	}
	return out
}

// classify applies the precedence rules: discovery flags win first, then a
// repo-example match, then a test_ function-name match, else unknown.
func classify(seg string, cfg reporegistry.Config) Classification {
	if discoveryFlagPattern.MatchString(seg) {
		return ClassDiscovery
	}
	for _, example := range cfg.Examples {
		if isSimilar(seg, example) {
			return ClassPassToPass
		}
	}
	if testFuncPattern.MatchString(seg) {
		return ClassFailToPass
	}
	return ClassUnknown
}

// isSimilar treats a segment as "equal-or-similar" to a known repo example
// if it is an exact match or shares the same normalised token sequence
// modulo whitespace.
func isSimilar(seg, example string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	}
	return norm(seg) == norm(example)
}

func scoreConfidence(seg string, cfg reporegistry.Config, repoMatch, genericMatch bool) float64 {
	var score float64
	if genericMatch {
		score += 0.4
	}
	if repoMatch {
		score += 0.5
	} else if genericMatch {
		score += 0.2
	}
	if cfg.TestRunner != "" && cfg.TestRunner != "auto-detect" && strings.Contains(seg, cfg.TestRunner) {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func reasoningFor(class Classification, repoMatch, genericMatch bool) string {
	switch {
	case repoMatch:
		return "matched a repository-specific test pattern, classified as " + string(class)
	case genericMatch:
		return "matched a framework-agnostic test pattern, classified as " + string(class)
	default:
		return "no pattern matched"
	}
}

// AnalyseOutput inspects raw command output for success markers and test
// names using a framework-agnostic heuristic: success requires a
// "passed / OK / 0 failed" marker and the absence of "FAILED / ERROR".
func AnalyseOutput(output string) OutputAnalysis {
	success := successPattern.MatchString(output) && !failurePattern.MatchString(output)

	var names []string
	seen := make(map[string]struct{})
	for _, m := range testNamePattern.FindAllStringSubmatch(output, -1) {
		candidate := m[0]
		if len(m) > 1 && m[1] != "" {
			candidate = m[1]
		}
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		names = append(names, candidate)
	}

	return OutputAnalysis{Success: success, TestNames: names}
}

// ExitCodeOf extracts the integer following "Exit code: " from output, if present.
func ExitCodeOf(output string) (int, bool) {
	m := exitCodePattern.FindStringSubmatch(output)
	if len(m) != 2 {
		return 0, false
	}
	var code int
	var sign int = 1
	s := m[1]
	if strings.HasPrefix(s, "-") {
		sign = -1
		s = s[1:]
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		code = code*10 + int(r-'0')
	}
	return code * sign, true
}

// RecordEffectiveness appends an entry to repo's bounded history, evicting
// the oldest entry past maxEffectivenessHistory.
func (a *Analyser) RecordEffectiveness(repo string, entry EffectivenessEntry) {
	if a.history == nil {
		a.history = make(map[string][]EffectivenessEntry)
	}
	h := a.history[repo]
	h = append(h, entry)
	if len(h) > maxEffectivenessHistory {
		h = h[len(h)-maxEffectivenessHistory:]
	}
	a.history[repo] = h
}

// EffectivenessStats summarises repo's recorded history.
func (a *Analyser) EffectivenessStats(repo string) Stats {
	h := a.history[repo]
	stats := Stats{ByClass: make(map[Classification]int)}
	if len(h) == 0 {
		return stats
	}
	successCount := 0
	for _, e := range h {
		stats.Total++
		stats.ByClass[e.Classification]++
		if e.Success {
			successCount++
		}
	}
	stats.SuccessRate = float64(successCount) / float64(stats.Total)
	return stats
}
