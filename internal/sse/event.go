// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package sse

import (
	"strconv"
	"strings"
	"time"
)

// Event is one server-sent event frame.
type Event struct {
	ID    string
	Name  string
	Data  string
	Retry time.Duration
}

// String renders the event in wire format. Each line of Data gets its own
// data field and the frame ends with a blank line.
func (e Event) String() string {
	var sb strings.Builder
	if e.ID != "" {
		field(&sb, "id", e.ID)
	}
	if e.Name != "" {
		field(&sb, "event", e.Name)
	}
	if e.Retry > 0 {
		field(&sb, "retry", strconv.FormatInt(e.Retry.Milliseconds(), 10))
	}
	data := strings.ReplaceAll(e.Data, "\r\n", "\n")
	for line := range strings.SplitSeq(data, "\n") {
		field(&sb, "data", line)
	}
	sb.WriteByte('\n')
	return sb.String()
}

func field(sb *strings.Builder, name, value string) {
	sb.WriteString(name)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteByte('\n')
}

// Comment returns a comment frame. Clients ignore it.
func Comment(text string) string {
	return ": " + strings.ReplaceAll(text, "\n", " ") + "\n\n"
}

// Heartbeat keeps idle streams open.
var Heartbeat = Comment("keepalive")
