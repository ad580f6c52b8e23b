package promptgen

import "testing"

func TestRenderSubstitutesVars(t *testing.T) {
	s := NewSet(map[string]string{
		"analyze": "Phase: {{phase_name}}, calls: {{tool_calls_total}}",
	})
	res := s.Render("", "analyze", Vars{"phase_name": "ANALYZE", "tool_calls_total": 3}, StatusCounters{Phase: "ANALYZE"})
	want := "Phase: ANALYZE, calls: 3"
	if res.Text != want {
		t.Fatalf("Text = %q, want %q", res.Text, want)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestRenderMissingVarFallsBackToBracketPlaceholder(t *testing.T) {
	s := NewSet(map[string]string{"analyze": "Hello {{missing}}"})
	res := s.Render("", "analyze", Vars{}, StatusCounters{Phase: "ANALYZE"})
	if res.Text != "Hello [missing]" {
		t.Fatalf("Text = %q, want %q", res.Text, "Hello [missing]")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one warning", res.Warnings)
	}
}

func TestRenderConditionalThenBranch(t *testing.T) {
	s := NewSet(map[string]string{
		"modify": "{{#if has_diff}}Apply the diff.{{else}}No diff yet.{{/if}}",
	})
	res := s.Render("", "modify", Vars{"has_diff": true}, StatusCounters{})
	if res.Text != "Apply the diff." {
		t.Fatalf("Text = %q, want then-branch", res.Text)
	}
}

func TestRenderConditionalElseBranch(t *testing.T) {
	s := NewSet(map[string]string{
		"modify": "{{#if has_diff}}Apply the diff.{{else}}No diff yet.{{/if}}",
	})
	res := s.Render("", "modify", Vars{"has_diff": false}, StatusCounters{})
	if res.Text != "No diff yet." {
		t.Fatalf("Text = %q, want else-branch", res.Text)
	}
}

func TestRenderNestedConditionalsInnermostFirst(t *testing.T) {
	s := NewSet(map[string]string{
		"verify": "{{#if outer}}A{{#if inner}}B{{else}}C{{/if}}D{{/if}}E",
	})
	res := s.Render("", "verify", Vars{"outer": true, "inner": true}, StatusCounters{})
	if res.Text != "ABDE" {
		t.Fatalf("Text = %q, want %q", res.Text, "ABDE")
	}

	res = s.Render("", "verify", Vars{"outer": true, "inner": false}, StatusCounters{})
	if res.Text != "ACDE" {
		t.Fatalf("Text = %q, want %q", res.Text, "ACDE")
	}

	res = s.Render("", "verify", Vars{"outer": false}, StatusCounters{})
	if res.Text != "E" {
		t.Fatalf("Text = %q, want %q", res.Text, "E")
	}
}

func TestRenderPerRepoOverride(t *testing.T) {
	s := NewSet(map[string]string{"analyze": "default"})
	s.SetOverride("django/django", "analyze", "django-specific")

	if got := s.Render("django/django", "analyze", Vars{}, StatusCounters{}).Text; got != "django-specific" {
		t.Errorf("override Text = %q, want %q", got, "django-specific")
	}
	if got := s.Render("other/repo", "analyze", Vars{}, StatusCounters{}).Text; got != "default" {
		t.Errorf("default Text = %q, want %q", got, "default")
	}
}

func TestRenderFallsBackOnUnresolvedConditional(t *testing.T) {
	s := NewSet(map[string]string{"analyze": "{{#if a}}unterminated"})
	res := s.Render("", "analyze", Vars{"a": true}, StatusCounters{Phase: "ANALYZE", ToolCallsTotal: 7})
	if !res.Fallback {
		t.Fatal("expected Fallback = true for unresolved conditional")
	}
	if res.Text == "" {
		t.Fatal("expected non-empty fallback text")
	}
}

func TestRenderUnknownPhaseFallsBack(t *testing.T) {
	s := NewSet(map[string]string{"analyze": "x"})
	res := s.Render("", "nonexistent", Vars{}, StatusCounters{Phase: "NONEXISTENT"})
	if !res.Fallback {
		t.Fatal("expected Fallback = true for unknown phase")
	}
}
