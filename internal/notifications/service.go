package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"seqwatch/internal/config"
	"seqwatch/internal/datastore"
)

// PipelineEvent describes one pipeline run transition or note.
type PipelineEvent struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Batch     string    `json:"batch,omitempty"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"ts"`
	Content   string    `json:"content,omitempty"`
}

// Service defines the notification surface used by the daemon and runner.
type Service interface {
	NotifyData(ctx context.Context, snapshot *datastore.Snapshot) error
	NotifyPipeline(ctx context.Context, event PipelineEvent) error
}

// NewService builds the ntfy service when a topic is configured, otherwise a
// noop implementation.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	return newNtfyService(topic, cfg.NotificationTimeout(), cfg.Notifications.PipelineErrors, cfg.Notifications.PipelineSuccess)
}

// Multi fans notifications out to every service and joins their errors.
func Multi(services ...Service) Service {
	filtered := make(multi, 0, len(services))
	for _, svc := range services {
		if svc == nil {
			continue
		}
		if _, ok := svc.(noopService); ok {
			continue
		}
		filtered = append(filtered, svc)
	}
	switch len(filtered) {
	case 0:
		return noopService{}
	case 1:
		return filtered[0]
	}
	return filtered
}

type multi []Service

func (m multi) NotifyData(ctx context.Context, snapshot *datastore.Snapshot) error {
	var errs []error
	for _, svc := range m {
		if err := svc.NotifyData(ctx, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) NotifyPipeline(ctx context.Context, event PipelineEvent) error {
	var errs []error
	for _, svc := range m {
		if err := svc.NotifyPipeline(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop returns a service that discards everything.
func Noop() Service { return noopService{} }

type noopService struct{}

func (noopService) NotifyData(context.Context, *datastore.Snapshot) error { return nil }
func (noopService) NotifyPipeline(context.Context, PipelineEvent) error   { return nil }
