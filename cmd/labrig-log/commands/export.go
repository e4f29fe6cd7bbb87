package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
)

// exportRecord is the JSON form of one event. Enums are written by name.
type exportRecord struct {
	Timestamp    string `json:"timestamp"`
	ConnectionID string `json:"connection_id,omitempty"`
	Direction    string `json:"direction"`
	Layer        string `json:"layer"`
	Category     string `json:"category"`
	Role         string `json:"role"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`

	Type        string `json:"type,omitempty"`
	MessageID   uint32 `json:"message_id,omitempty"`
	Operation   string `json:"operation,omitempty"`
	Status      string `json:"status,omitempty"`
	DurationUS  int64  `json:"duration_us,omitempty"`
	Payload     any    `json:"payload,omitempty"`
	FrameSize   int    `json:"frame_size,omitempty"`
	OldState    string `json:"old_state,omitempty"`
	NewState    string `json:"new_state,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ErrorString string `json:"error,omitempty"`
}

// RunExport writes the matching events of the capture at path as JSON
// lines to w.
func RunExport(path string, filter log.Filter, w io.Writer) error {
	enc := json.NewEncoder(w)
	return each(path, filter, func(e log.Event) error {
		if err := enc.Encode(toRecord(e)); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		return nil
	})
}

func toRecord(e log.Event) exportRecord {
	r := exportRecord{
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		ConnectionID: e.ConnectionID,
		Direction:    e.Direction.String(),
		Layer:        e.Layer.String(),
		Category:     e.Category.String(),
		Role:         e.LocalRole.String(),
		RemoteAddr:   e.RemoteAddr,
		DeviceID:     e.DeviceID,
		Type:         label(e),
	}
	switch {
	case e.Frame != nil:
		r.FrameSize = e.Frame.Size
	case e.Message != nil:
		m := e.Message
		r.MessageID = m.MessageID
		r.Payload = m.Payload
		if m.Operation != nil {
			r.Operation = m.Operation.String()
		}
		if m.Status != nil {
			r.Status = m.Status.String()
		}
		if m.ProcessingTime != nil {
			r.DurationUS = m.ProcessingTime.Microseconds()
		}
		if r.DeviceID == "" {
			r.DeviceID = m.Device
		}
	case e.StateChange != nil:
		r.OldState = e.StateChange.OldState
		r.NewState = e.StateChange.NewState
		r.Reason = e.StateChange.Reason
	case e.Error != nil:
		r.ErrorString = e.Error.Message
	}
	return r
}
