package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"reqscope/internal/feed"
	"reqscope/internal/monitor"
	"reqscope/internal/notify"
)

const replayInput = `[
  {"request": {"id": "a", "method": "GET", "url": "/users", "timestamp": "2024-05-01T11:05:00Z", "client_ip": "10.0.0.1"}, "response": {"status_code": 200, "timestamp": "2024-05-01T11:05:00.120Z"}},
  {"request": {"id": "b", "method": "GET", "url": "/users", "timestamp": "2024-05-01T11:55:00Z"}, "response": {"status_code": 500}},
  {"request": {"id": "c", "method": "POST", "url": "/orders", "timestamp": 1714564500000}, "response": {"status_code": 201}},
  {"request": {"method": "GET"}},
  {"nothing": true}
]`

func newTestRoot(out *bytes.Buffer) *cli.Command {
	return &cli.Command{
		Name:      "reqscope",
		Writer:    out,
		ErrWriter: out,
		Commands:  []*cli.Command{replayCommand(), rangesCommand()},
	}
}

func TestReplay(t *testing.T) {
	dir, err := os.MkdirTemp("", "reqscope-replay-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "logs.json")
	if err := os.WriteFile(path, []byte(replayInput), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	args := []string{"reqscope", "replay", "--range", "1h", "--now", "2024-05-01T12:00:00Z", "--summary", path}
	if err := newTestRoot(&out).Run(context.Background(), args); err != nil {
		t.Fatalf("replay: %v", err)
	}

	got := out.String()
	for _, want := range []string{"11:00", "11:50", "3 events read, 3 in range 1h, 2 dropped", "/users", "500"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestReplayMissingFile(t *testing.T) {
	var out bytes.Buffer
	err := newTestRoot(&out).Run(context.Background(), []string{"reqscope", "replay"})
	if err == nil {
		t.Fatal("expected an error without an input file")
	}
}

func TestRangesCommand(t *testing.T) {
	var out bytes.Buffer
	if err := newTestRoot(&out).Run(context.Background(), []string{"reqscope", "ranges"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"1m", "5m", "10m", "30m", "1h", "2h", "6h", "12h", "24h"} {
		if !strings.Contains(out.String(), id) {
			t.Errorf("ranges output missing %s", id)
		}
	}
}

func TestReplayNow(t *testing.T) {
	events, dropped, err := readEvents(strings.NewReader(replayInput))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || dropped != 2 {
		t.Fatalf("events=%d dropped=%d", len(events), dropped)
	}

	now, err := replayNow("", events)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 5, 1, 11, 55, 0, 0, time.UTC); !now.Equal(want) {
		t.Errorf("now = %v, want newest event %v", now, want)
	}

	if _, err := replayNow("yesterday", events); err == nil {
		t.Error("expected error for invalid --now")
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		n, max int
		want   string
	}{
		{0, 10, ""},
		{10, 10, "##########"},
		{1, 100, "#"},
		{5, 10, "#####"},
	}
	for _, tt := range tests {
		if got := bar(tt.n, tt.max, 10); got != tt.want {
			t.Errorf("bar(%d, %d) = %q, want %q", tt.n, tt.max, got, tt.want)
		}
	}
}

func TestFeedNotifications(t *testing.T) {
	a := &app{
		bus:   monitor.NewEventBus(16),
		notes: notify.NewLog(notify.Options{Max: 20}),
	}
	defer a.bus.Shutdown()

	a.feedChanged(feed.Status{State: feed.StateConnected})
	a.feedChanged(feed.Status{State: feed.StateReconnecting, Attempt: 1, MaxAttempts: 5, LastError: "EOF"})
	a.feedChanged(feed.Status{State: feed.StateConnected})
	a.feedChanged(feed.Status{State: feed.StateReconnecting, Attempt: 5, MaxAttempts: 5})
	a.feedChanged(feed.Status{State: feed.StateDisconnected, Attempt: 5, Terminal: true, LastError: "refused"})
	a.feedChanged(feed.Status{State: feed.StateDisconnected})

	// List is newest first.
	notes := a.notes.List(notify.Filter{})
	want := []notify.Type{notify.TypeError, notify.TypeWarning, notify.TypeSuccess, notify.TypeWarning, notify.TypeInfo}
	if len(notes) != len(want) {
		t.Fatalf("notifications = %+v", notes)
	}
	for i, w := range want {
		if notes[i].Type != w {
			t.Errorf("notes[%d].Type = %s, want %s (%s)", i, notes[i].Type, w, notes[i].Message)
		}
	}
	if !strings.Contains(notes[3].Message, "attempt 1/5") {
		t.Errorf("reconnect message = %q", notes[3].Message)
	}
	if !strings.Contains(notes[0].Message, "Max reconnect attempts reached") {
		t.Errorf("terminal message = %q", notes[0].Message)
	}
}
