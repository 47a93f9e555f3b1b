// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package sse

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub()

	ch := hub.Register(TopicMaintenance)
	assert.NotNil(t, ch)
	assert.Equal(t, 1, hub.ClientCount())

	// second tab
	ch2 := hub.Register(TopicMaintenance)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Unregister(TopicMaintenance, ch)
	assert.Equal(t, 1, hub.ClientCount())
	_, open := <-ch
	assert.False(t, open, "unregistered channel is closed")

	hub.Unregister(TopicMaintenance, ch2)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub()

	ch1 := hub.Register(TopicMaintenance)
	ch2 := hub.Register(TopicMaintenance)
	other := hub.Register("stats")
	defer hub.Unregister(TopicMaintenance, ch1)
	defer hub.Unregister(TopicMaintenance, ch2)
	defer hub.Unregister("stats", other)

	hub.Publish(TopicMaintenance, "status")

	assert.Equal(t, "status", <-ch1)
	assert.Equal(t, "status", <-ch2)
	select {
	case msg := <-other:
		t.Fatalf("other topic received %q", msg)
	default:
	}
}

func TestHub_PublishSkipsFullClients(t *testing.T) {
	hub := NewHub()
	ch := hub.Register(TopicMaintenance)
	defer hub.Unregister(TopicMaintenance, ch)

	for range cap(ch) + 5 {
		hub.Publish(TopicMaintenance, "x")
	}
	assert.Len(t, ch, cap(ch))
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub()
	assert.NotPanics(t, func() { hub.Publish(TopicMaintenance, "nobody listens") })
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := hub.Register(TopicMaintenance)
			hub.Publish(TopicMaintenance, "ping")
			hub.Unregister(TopicMaintenance, ch)
		}()
	}
	wg.Wait()

	require.Equal(t, 0, hub.ClientCount())
}
