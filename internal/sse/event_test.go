// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package sse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvent_String(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "data only",
			event: Event{Data: "ping"},
			want:  "data: ping\n\n",
		},
		{
			name:  "empty data still terminates",
			event: Event{Name: TopicMaintenance},
			want:  "event: maintenance\ndata: \n\n",
		},
		{
			name:  "all fields in wire order",
			event: Event{ID: "7", Name: TopicMaintenance, Data: `{"enabled":true}`, Retry: 5 * time.Second},
			want:  "id: 7\nevent: maintenance\nretry: 5000\ndata: {\"enabled\":true}\n\n",
		},
		{
			name:  "each line becomes a data field",
			event: Event{Data: "Back soon\r\nabout an hour\nthanks"},
			want:  "data: Back soon\ndata: about an hour\ndata: thanks\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.String())
		})
	}
}

func TestComment(t *testing.T) {
	assert.Equal(t, ": keepalive\n\n", Heartbeat)
	assert.Equal(t, ": two lines\n\n", Comment("two\nlines"))
}
