package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/wire"
)

// Stats aggregates a capture.
type Stats struct {
	Total       int
	ByLayer     map[log.Layer]int
	ByCategory  map[log.Category]int
	ByOperation map[wire.Operation]int
	Failures    map[wire.Status]int
	Devices     map[string]int
	Sessions    map[string]int
	Start, End  time.Time
}

// Collect reads the capture at path into Stats.
func Collect(path string) (*Stats, error) {
	s := &Stats{
		ByLayer:     make(map[log.Layer]int),
		ByCategory:  make(map[log.Category]int),
		ByOperation: make(map[wire.Operation]int),
		Failures:    make(map[wire.Status]int),
		Devices:     make(map[string]int),
		Sessions:    make(map[string]int),
	}
	err := each(path, log.Filter{}, func(e log.Event) error {
		s.Total++
		s.ByLayer[e.Layer]++
		s.ByCategory[e.Category]++
		if s.Start.IsZero() || e.Timestamp.Before(s.Start) {
			s.Start = e.Timestamp
		}
		if e.Timestamp.After(s.End) {
			s.End = e.Timestamp
		}
		if e.ConnectionID != "" {
			s.Sessions[e.ConnectionID]++
		}
		if e.DeviceID != "" {
			s.Devices[e.DeviceID]++
		}
		if m := e.Message; m != nil {
			if m.Type == log.MessageTypeRequest && m.Operation != nil {
				s.ByOperation[*m.Operation]++
			}
			if m.Status != nil && m.Status.IsError() {
				s.Failures[*m.Status]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RunStats prints statistics about the capture at path.
func RunStats(path string, w io.Writer) error {
	s, err := Collect(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Events:   %d\n", s.Total)
	if s.Total == 0 {
		return nil
	}
	fmt.Fprintf(w, "Duration: %s (%s to %s)\n",
		s.End.Sub(s.Start).Round(time.Millisecond),
		s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Sessions: %d\n", len(s.Sessions))

	printCounts(w, "Layers", s.ByLayer)
	printCounts(w, "Categories", s.ByCategory)
	printCounts(w, "Requests", s.ByOperation)
	printCounts(w, "Failures", s.Failures)

	if len(s.Devices) > 0 {
		fmt.Fprintln(w, "\nDevices:")
		for _, id := range slices.Sorted(maps.Keys(s.Devices)) {
			fmt.Fprintf(w, "  %-16s %d\n", id, s.Devices[id])
		}
	}
	return nil
}

func printCounts[K interface {
	~uint8
	fmt.Stringer
}](w io.Writer, title string, counts map[K]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "  %-16s %d\n", strings.ToLower(k.String())+":", counts[k])
	}
}
