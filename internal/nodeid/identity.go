// Package nodeid keeps node identifiers stable between the summary an LLM
// worker reads and the engine's view at apply time, and migrates legacy
// identifiers deterministically.
package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tripforge/itinerary-engine/internal/model"
)

// Pattern is the canonical node identifier shape: day{N}_node{M}.
var Pattern = regexp.MustCompile(`^day(\d+)_node(\d+)$`)

// CanonicalID formats a canonical node identifier.
func CanonicalID(dayNumber, position int) string {
	return fmt.Sprintf("day%d_node%d", dayNumber, position)
}

// MigrateIfNeeded renumbers a day's nodes to the canonical day{N}_node{M}
// pattern in list order whenever any identifier in the itinerary deviates
// from it, bumping the version exactly once. It is idempotent: a second
// call against an already-canonical itinerary is a no-op that does not
// bump the version.
func MigrateIfNeeded(it *model.Itinerary) *model.Itinerary {
	if it == nil {
		return it
	}
	if isFullyCanonical(it) {
		return it
	}

	migrated := it.Clone()
	for di := range migrated.Days {
		day := &migrated.Days[di]
		for ni := range day.Nodes {
			day.Nodes[ni].ID = CanonicalID(day.DayNumber, ni+1)
		}
	}
	migrated.Version++
	return migrated
}

func isFullyCanonical(it *model.Itinerary) bool {
	for _, day := range it.Days {
		for i, n := range day.Nodes {
			want := CanonicalID(day.DayNumber, i+1)
			if n.ID != want {
				return false
			}
		}
	}
	return true
}

// SummarizeForWorker renders a compact textual description of every day's
// nodes, for injection into an LLM prompt. It lists nodes under the
// identifiers present in the itinerary and never invents one. With a
// positive charBudget, rendering stops at the next day or node once the
// budget is spent and the result is cut to charBudget characters, so later
// nodes are left out; a charBudget of 0 or less lists every node.
func SummarizeForWorker(it *model.Itinerary, workerKind string, charBudget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Itinerary for %s (%s worker view):\n", it.Trip.Destination, workerKind)

	for _, day := range it.Days {
		if charBudget > 0 && b.Len() >= charBudget {
			break
		}
		fmt.Fprintf(&b, "Day %d (%s):\n", day.DayNumber, day.Date.Format("2006-01-02"))
		for _, n := range day.Nodes {
			if charBudget > 0 && b.Len() >= charBudget {
				break
			}
			window := ""
			if n.Timing.HasWindow() {
				window = fmt.Sprintf(" [%d-%d]", n.Timing.StartEpochMillis, n.Timing.EndEpochMillis)
			}
			fmt.Fprintf(&b, "  - %s: %q (%s)%s @ %s\n", n.ID, n.Title, n.Type, window, n.Location.Name)
		}
	}

	out := b.String()
	if charBudget > 0 && len(out) > charBudget {
		out = out[:charBudget]
	}
	return out
}

// ConsistencyError describes one validation failure.
type ConsistencyError struct {
	DayNumber int
	NodeID    string
	Reason    string
}

func (e ConsistencyError) Error() string {
	return fmt.Sprintf("day %d node %q: %s", e.DayNumber, e.NodeID, e.Reason)
}

// ValidateConsistency detects missing identifiers, blank titles, inverted
// timing windows, and duplicate identifiers within a day. The pipeline
// aborts generation on any returned error.
func ValidateConsistency(it *model.Itinerary) []error {
	var errs []error
	for _, day := range it.Days {
		seen := make(map[string]bool, len(day.Nodes))
		for _, n := range day.Nodes {
			if n.ID == "" {
				errs = append(errs, ConsistencyError{DayNumber: day.DayNumber, NodeID: "", Reason: "missing identifier"})
				continue
			}
			if seen[n.ID] {
				errs = append(errs, ConsistencyError{DayNumber: day.DayNumber, NodeID: n.ID, Reason: "duplicate identifier in day"})
			}
			seen[n.ID] = true

			if strings.TrimSpace(n.Title) == "" {
				errs = append(errs, ConsistencyError{DayNumber: day.DayNumber, NodeID: n.ID, Reason: "blank title"})
			}
			if n.Timing.HasWindow() && n.Timing.StartEpochMillis > n.Timing.EndEpochMillis {
				errs = append(errs, ConsistencyError{DayNumber: day.DayNumber, NodeID: n.ID, Reason: "start after end"})
			}
			if c := n.Location.Coordinates; c != nil {
				if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
					errs = append(errs, ConsistencyError{DayNumber: day.DayNumber, NodeID: n.ID, Reason: "coordinates out of range"})
				}
			}
		}
		for _, e := range day.Edges {
			if !seen[e.FromNodeID] || !seen[e.ToNodeID] {
				errs = append(errs, ConsistencyError{DayNumber: day.DayNumber, NodeID: e.FromNodeID, Reason: "orphaned edge reference"})
			}
		}
	}
	return errs
}

// NextPosition parses the day number and 1-based position out of a
// canonical identifier.
func NextPosition(id string) (dayNumber, position int, ok bool) {
	m := Pattern.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, false
	}
	dayNumber, _ = strconv.Atoi(m[1])
	position, _ = strconv.Atoi(m[2])
	return dayNumber, position, true
}

// RenumberDay reassigns canonical IDs to a day's node list in its current
// order, preserving relative order within the affected day after a
// structural change.
func RenumberDay(day *model.Day) {
	for i := range day.Nodes {
		day.Nodes[i].ID = CanonicalID(day.DayNumber, i+1)
	}
}
