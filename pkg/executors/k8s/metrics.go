package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/history"
)

func formatCPU(millicores float64) string {
	return fmt.Sprintf("%.2fm", millicores)
}

func formatMemoryMi(mi float64) string {
	return fmt.Sprintf("%.2fMi", mi)
}

// PodUsage is the per-pod row of kubectl_top_pods output.
type PodUsage struct {
	Name       string           `json:"name"`
	Namespace  string           `json:"namespace"`
	CPU        string           `json:"cpu"`
	Memory     string           `json:"memory"`
	Containers []ContainerUsage `json:"containers"`
}

type ContainerUsage struct {
	Name   string `json:"name"`
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

// topPods reads the metrics API and feeds each pod's totals into the metric
// history, which the predictive tools consume.
func (e *Executor) topPods(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}
	if e.clients.Metrics == nil {
		return nil, &agent.APIError{Detail: "metrics API not available; is metrics-server installed?"}
	}

	ns := e.namespaceOrDefault(p.Namespace)
	metricsList, err := e.clients.Metrics.MetricsV1beta1().PodMetricses(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}

	restarts := e.restartCounts(ctx, ns)
	now := time.Now().UTC()
	usage := make([]PodUsage, 0, len(metricsList.Items))
	for _, pm := range metricsList.Items {
		var totalCPUMilli, totalMemoryMi float64
		containers := make([]ContainerUsage, 0, len(pm.Containers))
		for _, c := range pm.Containers {
			cpuMilli := c.Usage.Cpu().AsApproximateFloat64() * 1000
			memMi := float64(c.Usage.Memory().Value()) / (1024 * 1024)
			totalCPUMilli += cpuMilli
			totalMemoryMi += memMi
			containers = append(containers, ContainerUsage{
				Name:   c.Name,
				CPU:    formatCPU(cpuMilli),
				Memory: formatMemoryMi(memMi),
			})
		}
		usage = append(usage, PodUsage{
			Name:       pm.Name,
			Namespace:  pm.Namespace,
			CPU:        formatCPU(totalCPUMilli),
			Memory:     formatMemoryMi(totalMemoryMi),
			Containers: containers,
		})

		key := history.Key{Namespace: pm.Namespace, Pod: pm.Name}
		e.history.Record(key, history.Sample{
			At:            now,
			CPUMillicores: totalCPUMilli,
			MemoryMi:      totalMemoryMi,
			Restarts:      restarts[key],
		})
	}

	return map[string]any{
		"pods":  usage,
		"count": len(usage),
	}, nil
}

// restartCounts snapshots cumulative restart counts so metric samples carry
// them. Failures degrade to zero counts; usage reporting still works.
func (e *Executor) restartCounts(ctx context.Context, namespace string) map[history.Key]int32 {
	counts := make(map[history.Key]int32)
	pods, err := e.clients.Core.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		e.logger.Warn("could not list pods for restart counts", "namespace", namespace, "error", err)
		return counts
	}
	for i := range pods.Items {
		pod := &pods.Items[i]
		var total int32
		for _, cs := range pod.Status.ContainerStatuses {
			total += cs.RestartCount
		}
		counts[history.Key{Namespace: pod.Namespace, Pod: pod.Name}] = total
	}
	return counts
}
