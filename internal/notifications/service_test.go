package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"seqwatch/internal/config"
	"seqwatch/internal/datastore"
	"seqwatch/internal/notifications"
	"seqwatch/internal/services"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyPipeline(context.Background(), notifications.PipelineEvent{Kind: "error"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type ntfyRequest struct {
	title, tags, priority, body string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, <-chan ntfyRequest) {
	t.Helper()
	requests := make(chan ntfyRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- ntfyRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, requests
}

func TestNtfyServiceFormatsPipelineEvents(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.PipelineEvent
		success        bool
		expectSent     bool
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "error",
			event:          notifications.PipelineEvent{Kind: "error", Name: "batch_0001", Content: "exit status 3"},
			expectSent:     true,
			expectTitle:    "seqwatch - Run Failed",
			expectMessage:  "Annotation failed: batch_0001\nexit status 3",
			expectTags:     "seqwatch,pipeline,error",
			expectPriority: "high",
		},
		{
			name:          "success when enabled",
			event:         notifications.PipelineEvent{Kind: "success", Name: "batch_0002"},
			success:       true,
			expectSent:    true,
			expectTitle:   "seqwatch - Run Complete",
			expectMessage: "Annotated: batch_0002",
			expectTags:    "seqwatch,pipeline,completed",
		},
		{
			name:  "success when disabled",
			event: notifications.PipelineEvent{Kind: "success", Name: "batch_0003"},
		},
		{
			name:  "start is never pushed",
			event: notifications.PipelineEvent{Kind: "start", Name: "batch_0004"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, requests := newNtfyServer(t, http.StatusOK)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.PipelineSuccess = tc.success
			svc := notifications.NewService(&cfg)

			if err := svc.NotifyPipeline(context.Background(), tc.event); err != nil {
				t.Fatalf("NotifyPipeline: %v", err)
			}
			if !tc.expectSent {
				select {
				case req := <-requests:
					t.Fatalf("unexpected request %+v", req)
				default:
				}
				return
			}
			req := <-requests
			if req.title != tc.expectTitle || req.body != tc.expectMessage || req.tags != tc.expectTags || req.priority != tc.expectPriority {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server, _ := newNtfyServer(t, http.StatusInternalServerError)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	err := svc.NotifyPipeline(context.Background(), notifications.PipelineEvent{Kind: "error", Name: "b"})
	if !errors.Is(err, services.ErrNotification) {
		t.Fatalf("expected notification error, got %v", err)
	}
}

type failing struct{ err error }

func (f failing) NotifyData(context.Context, *datastore.Snapshot) error           { return f.err }
func (f failing) NotifyPipeline(context.Context, notifications.PipelineEvent) error { return f.err }

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	hub := notifications.NewHub(8)
	boom := errors.New("boom")
	svc := notifications.Multi(failing{err: boom}, notifications.Noop(), hub, nil)

	err := svc.NotifyPipeline(context.Background(), notifications.PipelineEvent{RunID: "r1", Kind: "start"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	events, next, _ := hub.Fetch(context.Background(), 0, false)
	if len(events) != 1 || next != 1 || events[0].Pipeline.RunID != "r1" {
		t.Fatalf("hub did not receive event: %+v next=%d", events, next)
	}
}

func TestHubKeepsNewestSnapshot(t *testing.T) {
	hub := notifications.NewHub(8)
	if _, ok := hub.Latest(); ok {
		t.Fatal("expected no snapshot before NotifyData")
	}
	ctx := context.Background()
	_ = hub.NotifyData(ctx, &datastore.Snapshot{Version: 3, Title: "three"})
	_ = hub.NotifyData(ctx, &datastore.Snapshot{Version: 2, Title: "stale"})

	latest, ok := hub.Latest()
	if !ok || latest.Title != "three" {
		t.Fatalf("expected version 3 to win, got %+v", latest)
	}
	events, _, _ := hub.Fetch(ctx, 0, false)
	if len(events) != 1 || events[0].Type != notifications.EventData || events[0].DataVersion != 3 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestHubEvictsOldestAndFetchesSince(t *testing.T) {
	hub := notifications.NewHub(3)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = hub.NotifyPipeline(ctx, notifications.PipelineEvent{RunID: id})
	}
	events, next, _ := hub.Fetch(ctx, 0, false)
	if next != 5 || len(events) != 3 || events[0].Pipeline.RunID != "c" {
		t.Fatalf("unexpected ring contents %+v next=%d", events, next)
	}
	events, _, _ = hub.Fetch(ctx, 4, false)
	if len(events) != 1 || events[0].Pipeline.RunID != "e" {
		t.Fatalf("expected only e after 4, got %+v", events)
	}
}

func TestHubFetchWaitsAndHonorsCancel(t *testing.T) {
	hub := notifications.NewHub(4)

	got := make(chan []notifications.Event, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), 0, true)
		got <- events
	}()
	time.Sleep(20 * time.Millisecond)
	_ = hub.NotifyPipeline(context.Background(), notifications.PipelineEvent{RunID: "late"})
	select {
	case events := <-got:
		if len(events) != 1 || !strings.EqualFold(events[0].Pipeline.RunID, "late") {
			t.Fatalf("unexpected events %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not wake up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Fetch(ctx, 1, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
