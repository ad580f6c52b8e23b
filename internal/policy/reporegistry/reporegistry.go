// Package reporegistry maps SWE-bench instance IDs to repository-specific
// configuration: test runner, example invocations, discovery
// hints, exploration thresholds. It is a compile-time table with a generic
// fallback for anything not in it.
package reporegistry

import (
	"log/slog"
	"strconv"
	"strings"
)

// ProjectType classifies the dominant test framework a repository uses.
type ProjectType string

const (
	ProjectDjango ProjectType = "django"
	ProjectPytest ProjectType = "pytest"
	ProjectTox    ProjectType = "tox"
	ProjectCustom ProjectType = "custom"
)

// Config is the immutable, per-repository configuration returned by
// GetRepositoryConfig. It never changes after load.
type Config struct {
	Repo             string
	ProjectType      ProjectType
	TestRunner       string
	Examples         []string
	TestPatterns     []string
	MinReadCalls     int
	MinTestCalls     int
	StrictExploration bool
}

// genericFallback is returned for any repository not present in the table.
var genericFallback = Config{
	Repo:         "",
	ProjectType:  ProjectCustom,
	TestRunner:   "auto-detect",
	Examples:     nil,
	TestPatterns: []string{`pytest`, `python -m unittest`, `runtests\.py`, `tox`, `nox`, `manage\.py test`, `make test`},
	MinReadCalls: 3,
	MinTestCalls: 1,
}

// table holds the 12 known SWE-bench Verified repositories.
var table = map[string]Config{
	"django/django": {
		Repo: "django/django", ProjectType: ProjectDjango,
		TestRunner:   "python tests/runtests.py",
		Examples:     []string{"python tests/runtests.py auth_tests.test_views"},
		TestPatterns: []string{`runtests\.py`, `manage\.py test`},
		MinReadCalls: 5, MinTestCalls: 2,
	},
	"astropy/astropy": {
		Repo: "astropy/astropy", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest astropy/wcs/tests/test_wcs.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 4, MinTestCalls: 2,
	},
	"scikit-learn/scikit-learn": {
		Repo: "scikit-learn/scikit-learn", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest sklearn/linear_model/tests/test_ridge.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 4, MinTestCalls: 2,
	},
	"sympy/sympy": {
		Repo: "sympy/sympy", ProjectType: ProjectCustom,
		TestRunner:   "bin/test",
		Examples:     []string{"bin/test sympy/core/tests/test_basic.py"},
		TestPatterns: []string{`bin/test`, `pytest`},
		MinReadCalls: 4, MinTestCalls: 2,
	},
	"matplotlib/matplotlib": {
		Repo: "matplotlib/matplotlib", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest lib/matplotlib/tests/test_figure.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 4, MinTestCalls: 2,
	},
	"pytest-dev/pytest": {
		Repo: "pytest-dev/pytest", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest testing/test_config.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 3, MinTestCalls: 2,
	},
	"pylint-dev/pylint": {
		Repo: "pylint-dev/pylint", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest tests/test_functional.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 3, MinTestCalls: 2,
	},
	"psf/requests": {
		Repo: "psf/requests", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest tests/test_requests.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 3, MinTestCalls: 1,
	},
	"pallets/flask": {
		Repo: "pallets/flask", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest tests/test_basic.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 3, MinTestCalls: 1,
	},
	"sphinx-doc/sphinx": {
		Repo: "sphinx-doc/sphinx", ProjectType: ProjectTox,
		TestRunner:   "tox -e py39",
		Examples:     []string{"tox -e py39 -- tests/test_build_html.py"},
		TestPatterns: []string{`tox`},
		MinReadCalls: 4, MinTestCalls: 2,
	},
	"mwaskom/seaborn": {
		Repo: "mwaskom/seaborn", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest tests/test_relational.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 3, MinTestCalls: 1,
	},
	"pydata/xarray": {
		Repo: "pydata/xarray", ProjectType: ProjectPytest,
		TestRunner:   "pytest",
		Examples:     []string{"pytest xarray/tests/test_dataset.py -v"},
		TestPatterns: []string{`pytest`},
		MinReadCalls: 3, MinTestCalls: 2,
		StrictExploration: true,
	},
}

// RepositoryFromInstanceID extracts the repository identifier from an
// instance ID by splitting on the first double-underscore and rejoining
// with "/", then dropping the numeric suffix after the final hyphen.
// Example: "django__django-12325" -> "django/django".
func RepositoryFromInstanceID(instanceID string) string {
	idx := strings.Index(instanceID, "__")
	if idx < 0 {
		return instanceID
	}
	org := instanceID[:idx]
	rest := instanceID[idx+2:]

	if hyphen := strings.LastIndex(rest, "-"); hyphen >= 0 {
		if _, err := strconv.Atoi(rest[hyphen+1:]); err == nil {
			rest = rest[:hyphen]
		}
	}

	return org + "/" + rest
}

// GetRepositoryConfig resolves instanceID to its Config. Unknown
// repositories get genericFallback with a warning logged (never fails);
// the caller always receives a usable config.
func GetRepositoryConfig(instanceID string) Config {
	repo := RepositoryFromInstanceID(instanceID)
	cfg, ok := table[repo]
	if !ok {
		slog.Warn("reporegistry: unknown repository, using generic fallback",
			"instance_id", instanceID, "repo", repo)
		fallback := genericFallback
		fallback.Repo = repo
		return validate(fallback)
	}
	return validate(cfg)
}

// validate warns (never fails) when required fields are missing.
func validate(cfg Config) Config {
	if cfg.TestRunner == "" {
		slog.Warn("reporegistry: config missing test_runner", "repo", cfg.Repo)
		cfg.TestRunner = "auto-detect"
	}
	if len(cfg.TestPatterns) == 0 {
		slog.Warn("reporegistry: config missing test_patterns", "repo", cfg.Repo)
		cfg.TestPatterns = genericFallback.TestPatterns
	}
	return cfg
}
