// Package pathmap implements the Path Mapper: a pure,
// side-effect-free rewrite of paths across the SOURCE_PREFIX / TARGET_PREFIX
// boundary the agent's tools see versus the environment they actually run in.
package pathmap

import (
	"path"
	"regexp"
	"strings"
)

// DefaultSourcePrefix and DefaultTargetPrefix are the default sandbox/host
// path boundary used when no explicit Mapper is configured.
const (
	DefaultSourcePrefix = "/testbed"
	DefaultTargetPrefix = "/workspace/repo"
)

var xmlPathTag = regexp.MustCompile(`<path>([^<]*)</path>`)

// Mapper rewrites paths between a source and a target prefix. The zero
// value is not usable; construct with New.
type Mapper struct {
	sourcePrefix string
	targetPrefix string
}

// New builds a Mapper for the given prefix pair. Prefixes are normalised
// once at construction (trailing separators stripped).
func New(sourcePrefix, targetPrefix string) Mapper {
	return Mapper{
		sourcePrefix: strings.TrimRight(sourcePrefix, "/"),
		targetPrefix: strings.TrimRight(targetPrefix, "/"),
	}
}

// NewDefault builds a Mapper using the default /testbed <-> /workspace/repo boundary.
func NewDefault() Mapper {
	return New(DefaultSourcePrefix, DefaultTargetPrefix)
}

// MapSourceToTarget rewrites p iff p equals sourcePrefix or begins with
// sourcePrefix + "/", after POSIX normalisation. Paths matching neither
// prefix pass through unchanged.
func (m Mapper) MapSourceToTarget(p string) string {
	return rewrite(p, m.sourcePrefix, m.targetPrefix)
}

// MapTargetToSource is the exact inverse of MapSourceToTarget.
func (m Mapper) MapTargetToSource(p string) string {
	return rewrite(p, m.targetPrefix, m.sourcePrefix)
}

func rewrite(p, from, to string) string {
	if p == "" {
		return p
	}
	normalized := normalize(p)
	if normalized == from {
		return to
	}
	if strings.HasPrefix(normalized, from+"/") {
		return to + strings.TrimPrefix(normalized, from)
	}
	return p
}

// normalize collapses ".", "..", and duplicate separators the POSIX way.
// It intentionally does not resolve symlinks or touch the filesystem.
func normalize(p string) string {
	if p == "" {
		return p
	}
	cleaned := path.Clean(p)
	// path.Clean turns "" into "." - preserve an explicit empty input's
	// pass-through behaviour by never reaching this branch (guarded above).
	return cleaned
}

// RewriteArgsSourceToTarget rewrites every <path>...</path> segment found in
// an opaque XML-like args string, applying MapSourceToTarget to the
// enclosed text. No other XML parsing is performed; the rest of args is
// passed through byte-for-byte, since dynamic parameter maps keep `args`
// opaque to everything except this one substitution rule.
func (m Mapper) RewriteArgsSourceToTarget(args string) string {
	return rewriteArgsTags(args, m.MapSourceToTarget)
}

// RewriteArgsTargetToSource is the inverse of RewriteArgsSourceToTarget.
func (m Mapper) RewriteArgsTargetToSource(args string) string {
	return rewriteArgsTags(args, m.MapTargetToSource)
}

func rewriteArgsTags(args string, rewrite func(string) string) string {
	if !strings.Contains(args, "<path>") {
		return args
	}
	return xmlPathTag.ReplaceAllStringFunc(args, func(tag string) string {
		match := xmlPathTag.FindStringSubmatch(tag)
		if len(match) != 2 {
			return tag
		}
		return "<path>" + rewrite(match[1]) + "</path>"
	})
}
