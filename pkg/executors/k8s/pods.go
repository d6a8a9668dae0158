package k8s

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/atlasops/atlas/pkg/agent"
)

// PodSummary is the per-pod row returned by kubectl_get_pods.
type PodSummary struct {
	Name            string `json:"name"`
	Namespace       string `json:"namespace"`
	Status          string `json:"status"`
	Node            string `json:"node"`
	Ready           int    `json:"ready"`
	TotalContainers int    `json:"total_containers"`
	Restarts        int32  `json:"restarts"`
	Age             string `json:"age"`
}

type podListResult struct {
	Pods  []PodSummary `json:"pods"`
	Count int          `json:"count"`
}

func (e *Executor) getPods(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace     string `json:"namespace"`
		LabelSelector string `json:"label_selector"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	ns := e.namespaceOrDefault(p.Namespace)
	list, err := e.clients.Core.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: p.LabelSelector})
	if err != nil {
		return nil, mapAPIError(err)
	}

	result := podListResult{Pods: make([]PodSummary, 0, len(list.Items))}
	for i := range list.Items {
		result.Pods = append(result.Pods, summarizePod(&list.Items[i]))
	}
	result.Count = len(result.Pods)
	return result, nil
}

func summarizePod(pod *corev1.Pod) PodSummary {
	ready := 0
	var restarts int32
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		restarts += cs.RestartCount
	}
	return PodSummary{
		Name:            pod.Name,
		Namespace:       pod.Namespace,
		Status:          string(pod.Status.Phase),
		Node:            pod.Spec.NodeName,
		Ready:           ready,
		TotalContainers: len(pod.Spec.Containers),
		Restarts:        restarts,
		Age:             pod.CreationTimestamp.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

const defaultTailLines = 100

func (e *Executor) getPodLogs(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"pod_name"`
		Container string `json:"container"`
		TailLines int64  `json:"tail_lines"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}
	if p.TailLines <= 0 {
		p.TailLines = defaultTailLines
	}

	req := e.clients.Core.CoreV1().Pods(p.Namespace).GetLogs(p.PodName, &corev1.PodLogOptions{
		Container: p.Container,
		TailLines: &p.TailLines,
	})
	data, err := req.DoRaw(ctx)
	if err != nil {
		return nil, mapAPIError(err)
	}

	return map[string]any{
		"pod":        p.PodName,
		"namespace":  p.Namespace,
		"container":  p.Container,
		"tail_lines": p.TailLines,
		"logs":       string(data),
	}, nil
}

// PodDetail is the payload of kubectl_describe_pod.
type PodDetail struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Status      string            `json:"status"`
	Node        string            `json:"node"`
	Created     string            `json:"created"`
	Conditions  []PodCondition    `json:"conditions"`
	Containers  []ContainerDetail `json:"containers"`
}

type PodCondition struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ContainerDetail struct {
	Name     string `json:"name"`
	Image    string `json:"image"`
	Ready    bool   `json:"ready"`
	Restarts int32  `json:"restarts"`
}

const describeEventLimit = 10

func (e *Executor) describePod(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"pod_name"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	pod, err := e.clients.Core.CoreV1().Pods(p.Namespace).Get(ctx, p.PodName, metav1.GetOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}

	detail := PodDetail{
		Name:        pod.Name,
		Namespace:   pod.Namespace,
		Labels:      pod.Labels,
		Annotations: pod.Annotations,
		Status:      string(pod.Status.Phase),
		Node:        pod.Spec.NodeName,
		Created:     pod.CreationTimestamp.UTC().Format("2006-01-02T15:04:05Z"),
	}
	for _, c := range pod.Status.Conditions {
		detail.Conditions = append(detail.Conditions, PodCondition{
			Type:   string(c.Type),
			Status: string(c.Status),
			Reason: c.Reason,
		})
	}
	statusByName := make(map[string]corev1.ContainerStatus, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		statusByName[cs.Name] = cs
	}
	for _, c := range pod.Spec.Containers {
		cd := ContainerDetail{Name: c.Name, Image: c.Image}
		if cs, ok := statusByName[c.Name]; ok {
			cd.Ready = cs.Ready
			cd.Restarts = cs.RestartCount
		}
		detail.Containers = append(detail.Containers, cd)
	}

	events, err := e.clients.Core.CoreV1().Events(p.Namespace).List(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("involvedObject.name=%s", p.PodName),
	})
	if err != nil {
		return nil, mapAPIError(err)
	}
	recent := sortEventsNewestFirst(events.Items)
	if len(recent) > describeEventLimit {
		recent = recent[:describeEventLimit]
	}

	return map[string]any{
		"pod":    detail,
		"events": recent,
	}, nil
}

func (e *Executor) deletePod(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"pod_name"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	if err := e.clients.Core.CoreV1().Pods(p.Namespace).Delete(ctx, p.PodName, metav1.DeleteOptions{}); err != nil {
		return nil, mapAPIError(err)
	}

	e.logger.Info("deleted pod", "namespace", p.Namespace, "pod", p.PodName)
	return map[string]any{
		"pod":       p.PodName,
		"namespace": p.Namespace,
		"message":   fmt.Sprintf("Pod %s deleted (will be recreated if managed by a controller)", p.PodName),
	}, nil
}

func (e *Executor) autoRestartPod(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"pod_name"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	// Immediate delete; the owning controller recreates the pod.
	var noGrace int64
	err := e.clients.Core.CoreV1().Pods(p.Namespace).Delete(ctx, p.PodName, metav1.DeleteOptions{
		GracePeriodSeconds: &noGrace,
	})
	if err != nil {
		return nil, mapAPIError(err)
	}

	e.logger.Info("restarted pod", "namespace", p.Namespace, "pod", p.PodName)
	return map[string]any{
		"action":    "pod_restarted",
		"pod":       p.PodName,
		"namespace": p.Namespace,
		"message":   fmt.Sprintf("Pod %s deleted and will be recreated automatically", p.PodName),
	}, nil
}
