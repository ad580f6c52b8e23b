package reporegistry

import "testing"

func TestRepositoryFromInstanceID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"django__django-12325", "django/django"},
		{"astropy__astropy-7606", "astropy/astropy"},
		{"pytest-dev__pytest-5227", "pytest-dev/pytest"},
		{"noseparator", "noseparator"},
	}
	for _, tt := range tests {
		if got := RepositoryFromInstanceID(tt.in); got != tt.want {
			t.Errorf("RepositoryFromInstanceID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetRepositoryConfigKnown(t *testing.T) {
	cfg := GetRepositoryConfig("django__django-12325")
	if cfg.Repo != "django/django" {
		t.Errorf("Repo = %q, want django/django", cfg.Repo)
	}
	if cfg.TestRunner == "" {
		t.Error("TestRunner should never be empty")
	}
}

func TestGetRepositoryConfigUnknown(t *testing.T) {
	cfg := GetRepositoryConfig("some-unknown-repo__proj-99")
	if cfg.TestRunner != "auto-detect" {
		t.Errorf("TestRunner = %q, want auto-detect fallback", cfg.TestRunner)
	}
	if len(cfg.TestPatterns) == 0 {
		t.Error("fallback config must still have usable test patterns")
	}
}
