package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"seqwatch/internal/api"
	"seqwatch/internal/pipeline"
	"seqwatch/internal/services"
)

func TestNewClientBind(t *testing.T) {
	tests := []struct {
		bind    string
		wantErr bool
	}{
		{bind: "127.0.0.1:7688"},
		{bind: ":7688"},
		{bind: "0.0.0.0:7688"},
		{bind: "http://example.test:80/"},
		{bind: "", wantErr: true},
		{bind: "no-port", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.bind, func(t *testing.T) {
			_, err := api.NewClient(tc.bind, "")
			if tc.wantErr {
				if !errors.Is(err, services.ErrConfiguration) {
					t.Fatalf("NewClient(%q) = %v, want configuration error", tc.bind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient(%q): %v", tc.bind, err)
			}
		})
	}
}

func TestClientSendsTokenAndDecodes(t *testing.T) {
	var (
		mu               sync.Mutex
		gotAuth, gotKind string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/changes":
			var req api.ChangeRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotKind = req.Kind
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(api.ChangeResponse{Kind: req.Kind, Applied: true})
		case "/api/pipelines/gone":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "run not found"})
		case "/api/pipelines/busy":
			http.Error(w, "plain failure", http.StatusConflict)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "tok")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	resp, err := client.Change(ctx, api.ChangeRequest{Kind: "title", Values: map[string]string{"title": "x"}})
	mu.Lock()
	auth, kind := gotAuth, gotKind
	mu.Unlock()
	if err != nil || !resp.Applied || kind != "title" {
		t.Fatalf("Change = %+v, %v (kind %q)", resp, err, kind)
	}
	if auth != "Bearer tok" {
		t.Fatalf("Authorization = %q", auth)
	}

	_, err = client.Run(ctx, "gone")
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) || statusErr.Message != "run not found" || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Run(gone) = %v", err)
	}
	if err := client.Clear(ctx, "busy"); !errors.As(err, &statusErr) || !strings.Contains(statusErr.Message, "plain failure") {
		t.Fatalf("Clear(busy) = %v", err)
	}
	if api.IsUnavailable(err) {
		t.Fatal("HTTP errors are not unavailability")
	}
}

func TestClientUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := api.NewClient(addr, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Status(context.Background())
	if !api.IsUnavailable(err) {
		t.Fatalf("Status against closed server = %v, want unavailable", err)
	}
}

func TestFromRun(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := pipeline.Run{
		ID:      "r1",
		Job:     pipeline.Job{Name: "a.fastq", Batch: "a", Input: "/w/a.fastq", Output: "/o/a.tsv"},
		Status:  pipeline.StatusRunning,
		Created: created,
		Started: created.Add(time.Second),
		Messages: []pipeline.Message{
			{Kind: pipeline.KindInit, Timestamp: created, Content: "queued"},
			{Kind: pipeline.KindStart, Timestamp: created.Add(time.Second)},
		},
	}
	dto := api.FromRun(run)
	if dto.Name != "a.fastq" || dto.Status != "running" || dto.FinishedAt != "" {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if dto.CreatedAt != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("created_at = %q", dto.CreatedAt)
	}
	if len(dto.Messages) != 2 || dto.Messages[1].Kind != "start" {
		t.Fatalf("messages = %+v", dto.Messages)
	}
	if got := api.ParseTime(dto.StartedAt); !got.Equal(run.Started) {
		t.Fatalf("ParseTime = %v", got)
	}

	counts := api.CountRuns([]pipeline.Run{run, {Status: pipeline.StatusError}})
	if counts["running"] != 1 || counts["error"] != 1 || counts["idle"] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}
