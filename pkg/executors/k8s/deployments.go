package k8s

import (
	"context"
	"encoding/json"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/atlasops/atlas/pkg/agent"
)

// Replica bounds enforced on scale operations.
const (
	minReplicas = 0
	maxReplicas = 50
)

// DeploymentSummary is the per-deployment row returned by
// kubectl_get_deployments.
type DeploymentSummary struct {
	Name              string `json:"name"`
	Namespace         string `json:"namespace"`
	Replicas          int32  `json:"replicas"`
	ReadyReplicas     int32  `json:"ready_replicas"`
	AvailableReplicas int32  `json:"available_replicas"`
	Image             string `json:"image"`
}

func (e *Executor) getDeployments(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	ns := e.namespaceOrDefault(p.Namespace)
	list, err := e.clients.Core.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}

	deployments := make([]DeploymentSummary, 0, len(list.Items))
	for i := range list.Items {
		deployments = append(deployments, summarizeDeployment(&list.Items[i]))
	}
	return map[string]any{
		"deployments": deployments,
		"count":       len(deployments),
	}, nil
}

func summarizeDeployment(dep *appsv1.Deployment) DeploymentSummary {
	var replicas int32
	if dep.Spec.Replicas != nil {
		replicas = *dep.Spec.Replicas
	}
	image := "N/A"
	if containers := dep.Spec.Template.Spec.Containers; len(containers) > 0 {
		image = containers[0].Image
	}
	return DeploymentSummary{
		Name:              dep.Name,
		Namespace:         dep.Namespace,
		Replicas:          replicas,
		ReadyReplicas:     dep.Status.ReadyReplicas,
		AvailableReplicas: dep.Status.AvailableReplicas,
		Image:             image,
	}
}

func (e *Executor) scaleDeployment(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace      string `json:"namespace"`
		DeploymentName string `json:"deployment_name"`
		Replicas       int32  `json:"replicas"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}
	if p.Replicas < minReplicas || p.Replicas > maxReplicas {
		return nil, &agent.BadParamsError{
			Detail: fmt.Sprintf("replicas must be between %d and %d", minReplicas, maxReplicas),
		}
	}

	previous, err := e.applyScale(ctx, p.Namespace, p.DeploymentName, p.Replicas)
	if err != nil {
		return nil, err
	}

	e.logger.Info("scaled deployment",
		"namespace", p.Namespace,
		"deployment", p.DeploymentName,
		"previous_replicas", previous,
		"new_replicas", p.Replicas)
	return map[string]any{
		"deployment":        p.DeploymentName,
		"namespace":         p.Namespace,
		"previous_replicas": previous,
		"new_replicas":      p.Replicas,
		"message":           fmt.Sprintf("Scaled %s to %d replicas", p.DeploymentName, p.Replicas),
	}, nil
}

// applyScale sets the deployment's replica count and returns the previous
// value.
func (e *Executor) applyScale(ctx context.Context, namespace, name string, replicas int32) (int32, error) {
	deployments := e.clients.Core.AppsV1().Deployments(namespace)
	dep, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, mapAPIError(err)
	}

	var previous int32
	if dep.Spec.Replicas != nil {
		previous = *dep.Spec.Replicas
	}
	dep.Spec.Replicas = &replicas
	if _, err := deployments.Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return 0, mapAPIError(err)
	}
	return previous, nil
}

const defaultAutoScaleMax = 10

func (e *Executor) autoScaleIfNeeded(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace   string `json:"namespace"`
		Deployment  string `json:"deployment"`
		MaxReplicas int32  `json:"max_replicas"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}
	if p.MaxReplicas <= 0 {
		p.MaxReplicas = defaultAutoScaleMax
	}
	if p.MaxReplicas > maxReplicas {
		p.MaxReplicas = maxReplicas
	}

	dep, err := e.clients.Core.AppsV1().Deployments(p.Namespace).Get(ctx, p.Deployment, metav1.GetOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}

	var current int32
	if dep.Spec.Replicas != nil {
		current = *dep.Spec.Replicas
	}
	ready := dep.Status.ReadyReplicas

	if ready < current && current < p.MaxReplicas {
		target := current + 1
		if _, err := e.applyScale(ctx, p.Namespace, p.Deployment, target); err != nil {
			return nil, err
		}
		e.logger.Info("auto-scaled deployment",
			"namespace", p.Namespace,
			"deployment", p.Deployment,
			"old_replicas", current,
			"new_replicas", target)
		return map[string]any{
			"action":       "auto_scaled",
			"deployment":   p.Deployment,
			"namespace":    p.Namespace,
			"old_replicas": current,
			"new_replicas": target,
			"reason":       fmt.Sprintf("only %d of %d replicas ready", ready, current),
		}, nil
	}

	return map[string]any{
		"action":     "no_scaling_needed",
		"deployment": p.Deployment,
		"namespace":  p.Namespace,
		"replicas":   current,
		"ready":      ready,
	}, nil
}
