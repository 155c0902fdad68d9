package sse

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcoot/bunker/internal/feed/memory"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/testutil"
)

func TestFormatSSEMessage(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
		data      string
		expected  string
	}{
		{
			name:      "single line data",
			eventName: "insert",
			data:      `{"type":"INSERT"}`,
			expected:  "event: insert\ndata: {\"type\":\"INSERT\"}\n\n",
		},
		{
			name:      "multi-line data",
			eventName: "update",
			data:      "{\n  \"a\": 1\n}",
			expected:  "event: update\ndata: {\ndata:   \"a\": 1\ndata: }\n\n",
		},
		{
			name:      "empty data",
			eventName: "ping",
			data:      "",
			expected:  "event: ping\ndata: \n\n",
		},
		{
			name:      "data with carriage returns",
			eventName: "test",
			data:      "line1\r\nline2",
			expected:  "event: test\ndata: line1\ndata: line2\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatSSEMessage(tt.eventName, tt.data)
			if string(result) != tt.expected {
				t.Errorf("formatSSEMessage(%q, %q)\ngot:  %q\nwant: %q",
					tt.eventName, tt.data, string(result), tt.expected)
			}
		})
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "single line", input: "hello", expected: []string{"hello"}},
		{name: "two lines", input: "line1\nline2", expected: []string{"line1", "line2"}},
		{name: "trailing newline", input: "line1\n", expected: []string{"line1"}},
		{name: "empty string", input: "", expected: []string{""}},
		{name: "crlf line endings", input: "line1\r\nline2\r\n", expected: []string{"line1", "line2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitLines(tt.input)
			if len(result) != len(tt.expected) {
				t.Errorf("splitLines(%q) returned %d lines, want %d",
					tt.input, len(result), len(tt.expected))
				return
			}
			for i, line := range result {
				if line != tt.expected[i] {
					t.Errorf("splitLines(%q)[%d] = %q, want %q",
						tt.input, i, line, tt.expected[i])
				}
			}
		})
	}
}

func TestEventName(t *testing.T) {
	cases := map[model.ChangeType]string{
		model.ChangeInsert: EventInsert,
		model.ChangeUpdate: EventUpdate,
		model.ChangeDelete: EventDelete,
		"TRUNCATE":         "truncate",
	}
	for in, want := range cases {
		if got := eventName(in); got != want {
			t.Errorf("eventName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	hub := NewHub("bunker-1", testutil.NopLogger())
	go hub.Run()
	defer hub.Close()

	client := NewClient(hub, "player1")
	if !hub.Register(client) {
		t.Fatal("Register() = false on a running hub")
	}

	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.BroadcastEvent("test-event", "test data")

	select {
	case msg := <-client.send:
		expected := "event: test-event\ndata: test data\n\n"
		if string(msg) != expected {
			t.Errorf("client received %q, want %q", string(msg), expected)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("client did not receive message")
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub("bunker-1", testutil.NopLogger())
	go hub.Run()
	defer hub.Close()

	client := NewClient(hub, "player1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after unregister, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("client channel still open after unregister")
	}
}

func TestHub_RegisterAfterClose(t *testing.T) {
	hub := NewHub("bunker-1", testutil.NopLogger())
	hub.Close()
	hub.Close()

	if hub.Register(NewClient(hub, "late")) {
		t.Error("Register() = true on a closed hub")
	}
	// must not block
	hub.Unregister(NewClient(hub, "late"))
}

func TestHub_BroadcastToMultipleClients(t *testing.T) {
	hub := NewHub("bunker-1", testutil.NopLogger())
	go hub.Run()
	defer hub.Close()

	clients := []*Client{
		NewClient(hub, "player1"),
		NewClient(hub, "player2"),
		NewClient(hub, "player3"),
	}
	for _, c := range clients {
		hub.Register(c)
	}
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 3 {
		t.Errorf("ClientCount() = %d, want 3", hub.ClientCount())
	}

	hub.BroadcastEvent("update", "data")

	for i, client := range clients {
		select {
		case msg := <-client.send:
			expected := "event: update\ndata: data\n\n"
			if string(msg) != expected {
				t.Errorf("client %d received %q, want %q", i+1, string(msg), expected)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %d did not receive message", i+1)
		}
	}
}

func newManager(t *testing.T) (*HubManager, *memory.Broker) {
	t.Helper()
	broker := memory.New(testutil.NopLogger())
	manager := NewHubManager(broker, testutil.NopLogger())
	t.Cleanup(func() {
		manager.Close()
		_ = broker.Close()
	})
	return manager, broker
}

func TestHubManager_GetOrCreateHub(t *testing.T) {
	manager, broker := newManager(t)
	ctx := context.Background()

	hub1, err := manager.GetOrCreateHub(ctx, "alpha")
	if err != nil {
		t.Fatalf("GetOrCreateHub: %v", err)
	}

	hub2, _ := manager.GetOrCreateHub(ctx, "alpha")
	if hub1 != hub2 {
		t.Error("GetOrCreateHub returned different hub for same lobby")
	}

	hub3, _ := manager.GetOrCreateHub(ctx, "beta")
	if hub3 == hub1 {
		t.Error("GetOrCreateHub returned same hub for different lobby")
	}

	if n := broker.SubscriberCount("alpha"); n != 1 {
		t.Errorf("SubscriberCount(alpha) = %d, want 1", n)
	}
}

func TestHubManager_GetOrCreateHubFailsWhenFeedClosed(t *testing.T) {
	manager, broker := newManager(t)
	_ = broker.Close()

	if _, err := manager.GetOrCreateHub(context.Background(), "alpha"); err == nil {
		t.Fatal("GetOrCreateHub succeeded on a closed feed")
	}
	if manager.HubCount() != 0 {
		t.Errorf("HubCount() = %d, want 0", manager.HubCount())
	}
}

func TestHubManager_RemoveHubReleasesSubscription(t *testing.T) {
	manager, broker := newManager(t)

	if _, err := manager.GetOrCreateHub(context.Background(), "alpha"); err != nil {
		t.Fatalf("GetOrCreateHub: %v", err)
	}
	manager.RemoveHub("alpha")
	manager.RemoveHub("missing")

	if manager.GetHub("alpha") != nil {
		t.Error("hub still exists after RemoveHub")
	}
	waitFor(t, func() bool { return broker.SubscriberCount("alpha") == 0 })
}

func TestHubManager_CleanupEmptyHubs(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	_, _ = manager.GetOrCreateHub(ctx, "empty")
	active, _ := manager.GetOrCreateHub(ctx, "active")
	active.Register(NewClient(active, "player1"))
	time.Sleep(10 * time.Millisecond)

	manager.CleanupEmptyHubs()

	if manager.GetHub("empty") != nil {
		t.Error("empty hub still exists after cleanup")
	}
	if manager.GetHub("active") == nil {
		t.Error("active hub was removed during cleanup")
	}
}

func TestHubManager_ForwardsChangeEvents(t *testing.T) {
	manager, broker := newManager(t)
	ctx := context.Background()

	hub, _ := manager.GetOrCreateHub(ctx, "alpha")
	client := NewClient(hub, "player1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	row := &model.Participation{ID: "row-1", UserID: "p1", LobbyName: "alpha"}
	if err := broker.Publish(ctx, model.NewInsertEvent(row, time.Now())); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-client.send:
		got := string(msg)
		if !strings.HasPrefix(got, "event: insert\ndata: {") {
			t.Errorf("unexpected message %q", got)
		}
		if !strings.Contains(got, `"user_id":"p1"`) {
			t.Errorf("message %q does not carry the row", got)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive change event")
	}
}

func TestHubManager_StripsPassword(t *testing.T) {
	manager, broker := newManager(t)
	ctx := context.Background()

	hub, _ := manager.GetOrCreateHub(ctx, "alpha")
	client := NewClient(hub, "player1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	row := &model.Participation{ID: "row-1", UserID: "p1", LobbyName: "alpha", LobbyPassword: "s3cret"}
	if err := broker.Publish(ctx, model.NewDeleteEvent(row, time.Now())); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-client.send:
		got := string(msg)
		if strings.Contains(got, "lobby_password") || strings.Contains(got, "s3cret") {
			t.Errorf("message %q leaks the lobby password", got)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive change event")
	}
}

func TestHubManager_FeedDropClosesHub(t *testing.T) {
	manager, broker := newManager(t)

	hub, _ := manager.GetOrCreateHub(context.Background(), "alpha")
	client := NewClient(hub, "player1")
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	broker.Disconnect("alpha", errors.New("connection reset"))

	select {
	case msg := <-client.send:
		if !strings.HasPrefix(string(msg), "event: "+EventFeedLost) {
			t.Errorf("unexpected message %q", string(msg))
		}
	case <-time.After(time.Second):
		t.Fatal("client was not told about the dropped feed")
	}

	waitFor(t, func() bool { return manager.GetHub("alpha") == nil })

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("client received more messages after feed loss")
		}
	case <-time.After(time.Second):
		t.Error("client stream was not closed")
	}

	// A new subscriber gets a fresh hub
	fresh, err := manager.GetOrCreateHub(context.Background(), "alpha")
	if err != nil || fresh == hub {
		t.Errorf("GetOrCreateHub after drop = %p, %v; want a new hub", fresh, err)
	}
}

func TestServeSSE_StreamsEvents(t *testing.T) {
	manager, broker := newManager(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub, err := manager.GetOrCreateHub(r.Context(), "alpha")
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		ServeSSE(w, r, hub, "p1")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		// consume data lines and the blank separator
		for {
			rest, err := reader.ReadString('\n')
			if err != nil || rest == "\n" {
				break
			}
		}
		return strings.TrimSpace(line)
	}

	if got := readEvent(); got != "event: "+EventConnected {
		t.Fatalf("first event = %q", got)
	}

	row := &model.Participation{ID: "row-1", UserID: "p2", LobbyName: "alpha"}
	_ = broker.Publish(context.Background(), model.NewDeleteEvent(row, time.Now()))

	if got := readEvent(); got != "event: "+EventDelete {
		t.Errorf("second event = %q", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
