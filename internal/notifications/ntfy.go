package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"seqwatch/internal/datastore"
	"seqwatch/internal/services"
)

const userAgent = "seqwatch/0.1.0"

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	onError   bool
	onSuccess bool
}

func newNtfyService(endpoint string, timeout time.Duration, onError, onSuccess bool) *ntfyService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: timeout},
		onError:   onError,
		onSuccess: onSuccess,
	}
}

// NotifyData is a no-op: snapshots are too large and too frequent for push.
func (n *ntfyService) NotifyData(context.Context, *datastore.Snapshot) error {
	return nil
}

func (n *ntfyService) NotifyPipeline(ctx context.Context, event PipelineEvent) error {
	var data payload
	switch event.Kind {
	case "error":
		if !n.onError {
			return nil
		}
		var builder strings.Builder
		fmt.Fprintf(&builder, "Annotation failed: %s", event.Name)
		if content := strings.TrimSpace(event.Content); content != "" {
			builder.WriteString("\n")
			builder.WriteString(content)
		}
		data = payload{
			title:    "seqwatch - Run Failed",
			message:  builder.String(),
			tags:     []string{"seqwatch", "pipeline", "error"},
			priority: "high",
		}
	case "success":
		if !n.onSuccess {
			return nil
		}
		data = payload{
			title:   "seqwatch - Run Complete",
			message: fmt.Sprintf("Annotated: %s", event.Name),
			tags:    []string{"seqwatch", "pipeline", "completed"},
		}
	default:
		return nil
	}
	if err := n.send(ctx, data); err != nil {
		return services.Wrap(services.ErrNotification, "ntfy", "notify pipeline", event.RunID, err)
	}
	return nil
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
