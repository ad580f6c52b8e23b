package pathmap

import (
	"strings"
	"testing"
)

func TestMapSourceToTarget(t *testing.T) {
	m := NewDefault()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact prefix", "/testbed", "/workspace/repo"},
		{"nested path", "/testbed/django/urls/resolvers.py", "/workspace/repo/django/urls/resolvers.py"},
		{"unrelated path", "/home/u/f.py", "/home/u/f.py"},
		{"dotted segments normalised first", "/testbed/./django/../django/urls/resolvers.py", "/workspace/repo/django/urls/resolvers.py"},
		{"duplicate separators collapsed", "/testbed//django//urls.py", "/workspace/repo/django/urls.py"},
		{"prefix-like but not a path boundary", "/testbedextra/f.py", "/testbedextra/f.py"},
		{"empty string passes through", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.MapSourceToTarget(tt.in)
			if got != tt.want {
				t.Errorf("MapSourceToTarget(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// P5: map_target_to_source(map_source_to_target(p)) == p for any p beginning with source_prefix.
func TestRoundTripInverse(t *testing.T) {
	m := NewDefault()
	inputs := []string{
		"/testbed",
		"/testbed/a/b/c.py",
		"/testbed/./a/../a/b.py",
	}
	for _, p := range inputs {
		mapped := m.MapSourceToTarget(p)
		back := m.MapTargetToSource(mapped)
		normalizedIn := normalize(p)
		if back != normalizedIn {
			t.Errorf("round trip for %q: got %q, want %q", p, back, normalizedIn)
		}
	}
}

// P4: apply_path_mapping(path_mapping(x)) == path_mapping(x) (idempotence).
func TestIdempotence(t *testing.T) {
	m := NewDefault()
	inputs := []string{"/testbed/a/b.py", "/home/u/f.py", "/workspace/repo/a.py"}
	for _, p := range inputs {
		once := m.MapSourceToTarget(p)
		twice := m.MapSourceToTarget(once)
		// Once mapped into target space, a second source->target mapping is a no-op
		// because `once` no longer has the source prefix.
		if once != twice && strings.HasPrefix(once, m.targetPrefix) {
			t.Errorf("mapping not idempotent for %q: once=%q twice=%q", p, once, twice)
		}
	}
}

func TestRewriteArgsTags(t *testing.T) {
	m := NewDefault()
	args := `<tool><path>/testbed/a.py</path><other>untouched</other></tool>`
	want := `<tool><path>/workspace/repo/a.py</path><other>untouched</other></tool>`
	got := m.RewriteArgsSourceToTarget(args)
	if got != want {
		t.Errorf("RewriteArgsSourceToTarget = %q, want %q", got, want)
	}

	noPath := `<tool><other>untouched</other></tool>`
	if got := m.RewriteArgsSourceToTarget(noPath); got != noPath {
		t.Errorf("RewriteArgsSourceToTarget should pass through unchanged args: got %q", got)
	}
}
