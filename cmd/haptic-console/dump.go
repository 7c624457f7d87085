package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/haptic-bridge/haptic-go/pkg/log"
)

// dump prints every event of a capture file that passes filter.
func dump(w io.Writer, path string, filter log.Filter) (int, error) {
	r, err := log.NewReader(path, filter)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		formatEvent(w, event)
		n++
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = "Frame"
	case event.Message != nil:
		typeLabel = strings.ToUpper(event.Message.Kind.String())
	case event.StateChange != nil:
		typeLabel = "State"
	case event.ControlMsg != nil:
		typeLabel = event.ControlMsg.Type.String()
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, connID, event.Direction, layerStr, typeLabel)
	if event.Channel != "" {
		fmt.Fprintf(w, " %s", event.Channel)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		fmt.Fprintf(w, "  size=%d", event.Frame.Size)
		if event.Frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	case event.Message != nil:
		m := event.Message
		if m.MessageID != 0 {
			fmt.Fprintf(w, "  id=%d", m.MessageID)
		}
		if m.Command != "" {
			fmt.Fprintf(w, "  cmd=%s", m.Command)
		}
		if m.Code != "" {
			fmt.Fprintf(w, "  code=%s", m.Code)
		}
		if m.Seq != 0 {
			fmt.Fprintf(w, "  seq=%d", m.Seq)
		}
		if len(m.Values) > 0 {
			fmt.Fprintf(w, "  values=%v", m.Values)
		}
		if m.ProcessingTime != nil {
			fmt.Fprintf(w, "  took=%s", *m.ProcessingTime)
		}
		fmt.Fprintln(w)
	case event.StateChange != nil:
		sc := event.StateChange
		fmt.Fprintf(w, "  %s: %s -> %s", sc.Entity, sc.OldState, sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(w, " (%s)", sc.Reason)
		}
		fmt.Fprintln(w)
	case event.Error != nil:
		fmt.Fprintf(w, "  %s", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, " [%s]", event.Error.Context)
		}
		fmt.Fprintln(w)
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
