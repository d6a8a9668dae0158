package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/atlasops/atlas/pkg/agent"
)

const defaultEventLimit = 50

// EventSummary is one row of kubectl_get_events output.
type EventSummary struct {
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Object    string `json:"object"`
	Namespace string `json:"namespace"`
	Count     int32  `json:"count,omitempty"`
	Time      string `json:"time"`
}

func (e *Executor) getEvents(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace    string `json:"namespace"`
		ResourceName string `json:"resource_name"`
		Limit        int    `json:"limit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}
	if p.Limit <= 0 {
		p.Limit = defaultEventLimit
	}

	opts := metav1.ListOptions{}
	if p.ResourceName != "" {
		opts.FieldSelector = fmt.Sprintf("involvedObject.name=%s", p.ResourceName)
	}
	ns := e.namespaceOrDefault(p.Namespace)
	list, err := e.clients.Core.CoreV1().Events(ns).List(ctx, opts)
	if err != nil {
		return nil, mapAPIError(err)
	}

	events := sortEventsNewestFirst(list.Items)
	if len(events) > p.Limit {
		events = events[:p.Limit]
	}
	return map[string]any{
		"events": events,
		"count":  len(events),
	}, nil
}

// sortEventsNewestFirst flattens events into summaries ordered newest first.
func sortEventsNewestFirst(items []corev1.Event) []EventSummary {
	sorted := make([]corev1.Event, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return eventTime(&sorted[i]).After(eventTime(&sorted[j]))
	})

	out := make([]EventSummary, 0, len(sorted))
	for i := range sorted {
		ev := &sorted[i]
		out = append(out, EventSummary{
			Type:      ev.Type,
			Reason:    ev.Reason,
			Message:   ev.Message,
			Object:    ev.InvolvedObject.Name,
			Namespace: ev.InvolvedObject.Namespace,
			Count:     ev.Count,
			Time:      eventTime(ev).UTC().Format(time.RFC3339),
		})
	}
	return out
}

func eventTime(ev *corev1.Event) time.Time {
	if !ev.LastTimestamp.IsZero() {
		return ev.LastTimestamp.Time
	}
	if !ev.FirstTimestamp.IsZero() {
		return ev.FirstTimestamp.Time
	}
	return ev.EventTime.Time
}
