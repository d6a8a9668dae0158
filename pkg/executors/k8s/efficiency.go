package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/atlasops/atlas/pkg/agent"
)

// Usage-vs-limit thresholds for provisioning classification, in percent.
const (
	overProvisionedBelowPct  = 20
	underProvisionedAbovePct = 80
)

// EfficiencyRecommendation flags one container whose usage sits outside the
// healthy band relative to its declared limit.
type EfficiencyRecommendation struct {
	Pod            string  `json:"pod"`
	Container      string  `json:"container"`
	Type           string  `json:"type"`
	CurrentLimit   string  `json:"current_limit"`
	UsagePercent   float64 `json:"usage_percent"`
	Recommendation string  `json:"recommendation"`
}

type containerUsageTotals struct {
	cpuMillicores float64
	memoryMi      float64
}

func (e *Executor) analyzeResourceEfficiency(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	ns := e.namespaceOrDefault(p.Namespace)
	pods, err := e.clients.Core.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}

	usage, metricsErr := e.containerUsage(ctx, ns)
	if metricsErr != nil {
		// Analysis degrades to a listing when the metrics API is down.
		summaries := make([]PodSummary, 0, len(pods.Items))
		for i := range pods.Items {
			summaries = append(summaries, summarizePod(&pods.Items[i]))
		}
		return map[string]any{
			"warning": "Metrics not available",
			"pods":    summaries,
		}, nil
	}

	var recommendations []EfficiencyRecommendation
	for i := range pods.Items {
		pod := &pods.Items[i]
		for _, c := range pod.Spec.Containers {
			u, ok := usage[pod.Name+"/"+c.Name]
			if !ok {
				continue
			}
			recommendations = append(recommendations, classifyContainer(pod.Name, &c, u)...)
		}
	}

	over, under := 0, 0
	for _, r := range recommendations {
		if strings.HasPrefix(r.Type, "over-") {
			over++
		} else {
			under++
		}
	}

	return map[string]any{
		"namespace":       ns,
		"pods_analyzed":   len(pods.Items),
		"recommendations": recommendations,
		"summary": map[string]int{
			"over_provisioned":  over,
			"under_provisioned": under,
		},
	}, nil
}

// containerUsage maps "pod/container" to current usage totals.
func (e *Executor) containerUsage(ctx context.Context, namespace string) (map[string]containerUsageTotals, error) {
	if e.clients.Metrics == nil {
		return nil, &agent.APIError{Detail: "metrics API not available"}
	}
	metricsList, err := e.clients.Metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}
	usage := make(map[string]containerUsageTotals)
	for _, pm := range metricsList.Items {
		for _, c := range pm.Containers {
			usage[pm.Name+"/"+c.Name] = containerUsageTotals{
				cpuMillicores: c.Usage.Cpu().AsApproximateFloat64() * 1000,
				memoryMi:      float64(c.Usage.Memory().Value()) / (1024 * 1024),
			}
		}
	}
	return usage, nil
}

func classifyContainer(podName string, c *corev1.Container, u containerUsageTotals) []EfficiencyRecommendation {
	var out []EfficiencyRecommendation

	if cpuLimit := c.Resources.Limits.Cpu(); cpuLimit != nil && !cpuLimit.IsZero() {
		limitMilli := cpuLimit.AsApproximateFloat64() * 1000
		pct := u.cpuMillicores / limitMilli * 100
		if rec := classifyUsage(podName, c.Name, "cpu", cpuLimit.String(), pct); rec != nil {
			out = append(out, *rec)
		}
	}
	if memLimit := c.Resources.Limits.Memory(); memLimit != nil && !memLimit.IsZero() {
		limitMi := float64(memLimit.Value()) / (1024 * 1024)
		pct := u.memoryMi / limitMi * 100
		if rec := classifyUsage(podName, c.Name, "memory", memLimit.String(), pct); rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

func classifyUsage(pod, container, resource, limit string, pct float64) *EfficiencyRecommendation {
	pct = math.Round(pct*100) / 100
	switch {
	case pct < overProvisionedBelowPct:
		return &EfficiencyRecommendation{
			Pod:            pod,
			Container:      container,
			Type:           "over-provisioned-" + resource,
			CurrentLimit:   limit,
			UsagePercent:   pct,
			Recommendation: fmt.Sprintf("Consider reducing %s limit (only using %.1f%%)", resource, pct),
		}
	case pct > underProvisionedAbovePct:
		return &EfficiencyRecommendation{
			Pod:            pod,
			Container:      container,
			Type:           "under-provisioned-" + resource,
			CurrentLimit:   limit,
			UsagePercent:   pct,
			Recommendation: fmt.Sprintf("Consider increasing %s limit (%.1f%% usage)", resource, pct),
		}
	}
	return nil
}
