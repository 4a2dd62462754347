// Package tracing folds a job's flat trace::entry/trace::exit timestamp
// map into a span tree: one parent span rooted at the job id, one child
// span per stage. See SPEC_FULL.md §4.4.
package tracing

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
)

// ErrAggregation marks a malformed trace map — logged and dropped from
// the span tree, never fatal, per §7.
var ErrAggregation = errors.New("tracing: malformed trace record")

// Event is a named instant within a Span.
type Event struct {
	Name string
	At   int64 // epoch nanoseconds
}

// Span is one node of the aggregated tree: a parent rooted at the job id,
// or a child rooted at a stage name.
type Span struct {
	TraceID  [16]byte
	SpanID   [8]byte
	Name     string
	Start    int64
	End      int64
	Events   []Event
	Clamped  bool // true if End was clamped up to Start (entry > exit)
}

// SpanTree is the Trace Aggregator's exporter-agnostic output: one parent
// span plus its per-stage children, always built regardless of whether any
// telemetry backend is configured.
type SpanTree struct {
	Parent   Span
	Children []Span
}

// Aggregate groups trace by stage, clamps entry>exit, discards unpaired
// stages, and builds the parent+children span tree described in §4.4.
// traceIDHex is the optional hex-encoded trace id carried by the result; if
// empty or malformed a random trace id is generated. Span ids are always
// generated. Malformed stage pairs are logged via logger and skipped —
// they never abort aggregation.
func Aggregate(jobID string, trace map[string]int64, traceIDHex string, logger *slog.Logger) *SpanTree {
	type pair struct {
		entry    int64
		exit     int64
		hasEntry bool
		hasExit  bool
	}
	stages := map[string]*pair{}

	for key, ts := range trace {
		switch {
		case strings.HasPrefix(key, "trace::entry::"):
			name := strings.TrimPrefix(key, "trace::entry::")
			p := stages[name]
			if p == nil {
				p = &pair{}
				stages[name] = p
			}
			if !p.hasEntry || ts < p.entry {
				p.entry = ts
			}
			p.hasEntry = true
		case strings.HasPrefix(key, "trace::exit::"):
			name := strings.TrimPrefix(key, "trace::exit::")
			p := stages[name]
			if p == nil {
				p = &pair{}
				stages[name] = p
			}
			if !p.hasExit || ts > p.exit {
				p.exit = ts
			}
			p.hasExit = true
		}
	}

	traceID := parseOrRandomTraceID(traceIDHex)

	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)

	var children []Span
	var allTimes []int64
	for _, name := range names {
		p := stages[name]
		if !p.hasEntry || !p.hasExit {
			if logger != nil {
				logger.Warn("tracing: dropping unpaired stage", "job_id", jobID, "stage", name, "err", ErrAggregation)
			}
			continue
		}

		clamped := false
		exit := p.exit
		if p.entry > exit {
			exit = p.entry
			clamped = true
		}

		children = append(children, Span{
			TraceID: traceID,
			SpanID:  randomSpanID(),
			Name:    name,
			Start:   p.entry,
			End:     exit,
			Events: []Event{
				{Name: "entry", At: p.entry},
				{Name: "exit", At: exit},
			},
			Clamped: clamped,
		})
		allTimes = append(allTimes, p.entry, exit)
	}

	var start, end int64
	if len(allTimes) > 0 {
		start, end = allTimes[0], allTimes[0]
		for _, t := range allTimes {
			if t < start {
				start = t
			}
			if t > end {
				end = t
			}
		}
	}

	parent := Span{
		TraceID: traceID,
		SpanID:  randomSpanID(),
		Name:    jobID,
		Start:   start,
		End:     end,
		Events: []Event{
			{Name: "start", At: start},
			{Name: "end", At: end},
		},
	}

	return &SpanTree{Parent: parent, Children: children}
}

func parseOrRandomTraceID(traceIDHex string) [16]byte {
	var id [16]byte
	if traceIDHex != "" {
		if decoded, err := hex.DecodeString(traceIDHex); err == nil && len(decoded) == 16 {
			copy(id[:], decoded)
			return id
		}
	}
	rand.Read(id[:])
	return id
}

func randomSpanID() [8]byte {
	var id [8]byte
	rand.Read(id[:])
	return id
}
