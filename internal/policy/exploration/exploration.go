// Package exploration implements the Exploration Strategy:
// scores how well the agent understands the repository, recommends next
// steps, and escalates guidance verbosity when the agent revisits the same
// coarse state without progress.
package exploration

import (
	"time"

	"policyengine.dev/core/internal/policy/clock"
)

// Priority orders recommendations: critical > high > medium > low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Bucket classifies a 0-100 score.
type Bucket string

const (
	BucketInsufficient Bucket = "insufficient"
	BucketBasic        Bucket = "basic"
	BucketAdequate     Bucket = "adequate"
	BucketComprehensive Bucket = "comprehensive"
)

// escalationWindow is the re-appearance window that triggers escalation.
const escalationWindow = 5 * time.Minute

// idleReset is the idle period after which escalation state resets.
const idleReset = 10 * time.Minute

// Flags are the advisory exploration signals tracked by the StateMachine.
// They never gate phase transitions.
type Flags struct {
	ProjectExplored      bool
	ReadmeRead           bool
	TestStructureExplored bool
	TargetTestsLocated   bool
}

// Snapshot is the input to Score/Recommend: the counters and flags needed
// to assess understanding at a point in time.
type Snapshot struct {
	ReadCalls     int
	TestCalls     int
	Flags         Flags
}

// Recommendation is one prioritised next step.
type Recommendation struct {
	Priority Priority
	Message  string
}

// Score computes the 0-100 understanding score from a fixed weighting:
// file reads (40 max, stepped), test executions (30 max), README (15),
// test-structure explored (10), project explored (5).
func Score(s Snapshot) int {
	total := readScore(s.ReadCalls) + testScore(s.TestCalls)
	if s.Flags.ReadmeRead {
		total += 15
	}
	if s.Flags.TestStructureExplored {
		total += 10
	}
	if s.Flags.ProjectExplored {
		total += 5
	}
	if total > 100 {
		total = 100
	}
	return total
}

// readScore steps at 3/6/12/25 reads towards a 40-point maximum.
func readScore(reads int) int {
	switch {
	case reads >= 25:
		return 40
	case reads >= 12:
		return 30
	case reads >= 6:
		return 20
	case reads >= 3:
		return 10
	default:
		return 0
	}
}

// testScore steps test executions towards a 30-point maximum.
func testScore(tests int) int {
	switch {
	case tests >= 10:
		return 30
	case tests >= 5:
		return 20
	case tests >= 1:
		return 10
	default:
		return 0
	}
}

// BucketFor classifies a score into the spec's four buckets.
func BucketFor(score int) Bucket {
	switch {
	case score < 25:
		return BucketInsufficient
	case score < 50:
		return BucketBasic
	case score < 75:
		return BucketAdequate
	default:
		return BucketComprehensive
	}
}

// Recommend produces prioritised next steps from s, worst gaps first.
func Recommend(s Snapshot) []Recommendation {
	var recs []Recommendation

	if !s.Flags.ReadmeRead {
		recs = append(recs, Recommendation{PriorityCritical, "Read the project README before making further changes."})
	}
	if !s.Flags.ProjectExplored {
		recs = append(recs, Recommendation{PriorityHigh, "List the repository's top-level structure to orient yourself."})
	}
	if !s.Flags.TestStructureExplored {
		recs = append(recs, Recommendation{PriorityHigh, "Explore the test directory layout before editing source files."})
	}
	if s.ReadCalls < 3 {
		recs = append(recs, Recommendation{PriorityMedium, "Read more of the implicated source files before concluding."})
	}
	if !s.Flags.TargetTestsLocated {
		recs = append(recs, Recommendation{PriorityMedium, "Locate the FAIL_TO_PASS tests this instance expects to turn green."})
	}
	if s.TestCalls == 0 {
		recs = append(recs, Recommendation{PriorityLow, "Run the test suite at least once to establish a baseline."})
	}

	return recs
}

// Fingerprint is a coarse hash of a Snapshot: the four exploration flags
// plus two counter bins (read calls, test calls), used by the Escalator to
// detect "stuck in the same place" re-entrance.
type Fingerprint struct {
	Flags      Flags
	ReadBin    int
	TestBin    int
}

func fingerprintOf(s Snapshot) Fingerprint {
	return Fingerprint{
		Flags:   s.Flags,
		ReadBin: bin(s.ReadCalls, 3, 6, 12, 25),
		TestBin: bin(s.TestCalls, 1, 5, 10),
	}
}

func bin(v int, thresholds ...int) int {
	b := 0
	for _, t := range thresholds {
		if v >= t {
			b++
		}
	}
	return b
}

// Escalator tracks repeated fingerprints and escalates verbosity when the
// same coarse state re-appears within escalationWindow, resetting after
// idleReset of inactivity.
type Escalator struct {
	clock       clock.Clock
	last        Fingerprint
	lastSeen    time.Time
	hasLast     bool
	level       int
}

// NewEscalator constructs an Escalator driven by clk.
func NewEscalator(clk clock.Clock) *Escalator {
	return &Escalator{clock: clk}
}

// Level returns the current escalation level (0 = no escalation).
func (e *Escalator) Level() int { return e.level }

// Observe records a new Snapshot and returns the escalation level to apply
// to the next guidance message.
func (e *Escalator) Observe(s Snapshot) int {
	now := e.clock.Now()
	fp := fingerprintOf(s)

	if e.hasLast && now.Sub(e.lastSeen) >= idleReset {
		e.level = 0
		e.hasLast = false
	}

	if e.hasLast && fp == e.last && now.Sub(e.lastSeen) < escalationWindow {
		e.level++
	} else if !e.hasLast || fp != e.last {
		e.level = 0
	}

	e.last = fp
	e.lastSeen = now
	e.hasLast = true
	return e.level
}
