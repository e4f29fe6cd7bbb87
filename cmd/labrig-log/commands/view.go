// Package commands implements the labrig-log subcommands.
package commands

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
)

// RunView prints every event of the capture at path that matches filter.
func RunView(path string, filter log.Filter, w io.Writer) error {
	return each(path, filter, func(e log.Event) error {
		formatEvent(w, e)
		return nil
	})
}

func each(path string, filter log.Filter, fn func(log.Event) error) error {
	r, err := log.OpenReader(path, filter)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer r.Close()

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// formatEvent writes a header line, the event details and a blank line.
func formatEvent(w io.Writer, e log.Event) {
	ts := e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	layer := e.Layer.String()
	if e.Category == log.CategoryControl {
		layer = "CTRL"
	}
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, shortID(e.ConnectionID), e.Direction, layer, label(e))
	if e.DeviceID != "" {
		fmt.Fprintf(w, " device=%s", e.DeviceID)
	}
	fmt.Fprintln(w)

	switch {
	case e.Frame != nil:
		fmt.Fprintf(w, "  Size: %d bytes\n", e.Frame.Size)
		if len(e.Frame.Data) > 0 {
			fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(e.Frame.Data))
			if e.Frame.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}
	case e.Message != nil:
		formatMessage(w, e.Message)
	case e.StateChange != nil:
		sc := e.StateChange
		fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case e.Error != nil:
		fmt.Fprintf(w, "  Message: %s\n", e.Error.Message)
		if e.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", e.Error.Context)
		}
	}
	fmt.Fprintln(w)
}

func label(e log.Event) string {
	switch {
	case e.Frame != nil:
		return "Frame"
	case e.Message != nil:
		return e.Message.Type.String()
	case e.StateChange != nil:
		return "State"
	case e.ControlMsg != nil:
		return e.ControlMsg.Type.String()
	case e.Error != nil:
		return "Error"
	}
	return "Unknown"
}

func formatMessage(w io.Writer, m *log.MessageEvent) {
	fmt.Fprintf(w, "  MessageID: %d\n", m.MessageID)
	if m.Operation != nil {
		fmt.Fprintf(w, "  Operation: %s\n", m.Operation)
	}
	if m.Device != "" {
		fmt.Fprintf(w, "  Device: %s\n", m.Device)
	}
	if m.Status != nil {
		fmt.Fprintf(w, "  Status: %s (%d)\n", m.Status, *m.Status)
	}
	if m.ProcessingTime != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*m.ProcessingTime))
	}
	if m.Payload != nil {
		if data, err := json.Marshal(m.Payload); err == nil {
			fmt.Fprintf(w, "  Payload: %s\n", data)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayer parses a layer name, ignoring case.
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "service":
		return log.LayerService, nil
	}
	return 0, fmt.Errorf("invalid layer %q (must be transport, wire or service)", s)
}

// ParseDirection parses "in" or "out", ignoring case.
func ParseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	}
	return 0, fmt.Errorf("invalid direction %q (must be in or out)", s)
}

// ParseCategory parses a category name, ignoring case.
func ParseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	}
	return 0, fmt.Errorf("invalid category %q", s)
}
