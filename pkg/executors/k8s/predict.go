package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/atlasops/atlas/pkg/agent"
	"github.com/atlasops/atlas/pkg/history"
)

const (
	// Growth above this percent over the sample window triggers a warning.
	trendWarnPct = 30

	defaultLookaheadHours = 3

	// Restart thresholds for pattern and health classification.
	frequentRestartThreshold  = 3
	highSeverityRestarts      = 10
	unhealthyRestartThreshold = 2

	// Scaling heuristics.
	unhealthyRatioThreshold = 0.3
	scaleUpIncrement        = 2
	scaleUpCap              = 20
	scaleDownFloor          = 2
)

// Prediction is the outcome of a per-pod trend analysis.
type Prediction struct {
	Prediction             string  `json:"prediction"`
	Type                   string  `json:"type,omitempty"`
	Pod                    string  `json:"pod,omitempty"`
	Namespace              string  `json:"namespace,omitempty"`
	Message                string  `json:"message"`
	GrowthPercent          float64 `json:"growth_percent,omitempty"`
	RecentRestarts         []int32 `json:"recent_restarts,omitempty"`
	Recommendation         string  `json:"recommendation,omitempty"`
	Urgency                string  `json:"urgency,omitempty"`
	EstimatedTimeToFailure string  `json:"estimated_time_to_failure,omitempty"`
}

func (e *Executor) predictResourceExhaustion(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace      string `json:"namespace"`
		PodName        string `json:"pod_name"`
		LookaheadHours int    `json:"lookahead_hours"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}
	if p.LookaheadHours <= 0 {
		p.LookaheadHours = defaultLookaheadHours
	}
	return e.predictForPod(history.Key{Namespace: p.Namespace, Pod: p.PodName}, p.LookaheadHours), nil
}

// predictForPod runs the trend checks for one pod: increasing restarts first,
// then memory growth, then CPU growth.
func (e *Executor) predictForPod(key history.Key, lookaheadHours int) Prediction {
	samples := e.history.History(key)
	if len(samples) < history.MinTrendSamples {
		return Prediction{
			Prediction: "insufficient_data",
			Pod:        key.Pod,
			Namespace:  key.Namespace,
			Message:    "Need more data points for prediction; run kubectl_top_pods a few times first",
		}
	}

	horizon := fmt.Sprintf("%d hours", lookaheadHours)

	recent := samples[len(samples)-history.MinTrendSamples:]
	if recent[len(recent)-1].Restarts > recent[0].Restarts {
		counts := make([]int32, len(recent))
		for i, s := range recent {
			counts[i] = s.Restarts
		}
		return Prediction{
			Prediction:             "warning",
			Type:                   "increasing_restarts",
			Pod:                    key.Pod,
			Namespace:              key.Namespace,
			Message:                fmt.Sprintf("Pod restart count increasing: %v", counts),
			RecentRestarts:         counts,
			Recommendation:         "Check pod logs and resource limits",
			Urgency:                "medium",
			EstimatedTimeToFailure: horizon,
		}
	}

	if growth, ok := history.GrowthPercent(samples, history.Memory); ok && growth > trendWarnPct {
		return Prediction{
			Prediction:             "warning",
			Type:                   "memory_trend_increase",
			Pod:                    key.Pod,
			Namespace:              key.Namespace,
			Message:                fmt.Sprintf("Memory usage grew %.1f%% over the sample window", growth),
			GrowthPercent:          round1(growth),
			Recommendation:         "Consider increasing memory limits or investigating a memory leak",
			Urgency:                "medium",
			EstimatedTimeToFailure: horizon,
		}
	}

	if growth, ok := history.GrowthPercent(samples, history.CPU); ok && growth > trendWarnPct {
		return Prediction{
			Prediction:             "warning",
			Type:                   "cpu_trend_increase",
			Pod:                    key.Pod,
			Namespace:              key.Namespace,
			Message:                fmt.Sprintf("CPU usage grew %.1f%% over the sample window", growth),
			GrowthPercent:          round1(growth),
			Recommendation:         "Consider increasing CPU limits or scaling out",
			Urgency:                "medium",
			EstimatedTimeToFailure: horizon,
		}
	}

	return Prediction{
		Prediction: "ok",
		Pod:        key.Pod,
		Namespace:  key.Namespace,
		Message:    "No issues predicted in the near term",
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func (e *Executor) suggestPreemptiveActions(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	var suggestions []map[string]any
	for _, key := range e.history.Keys() {
		if key.Namespace != p.Namespace {
			continue
		}
		prediction := e.predictForPod(key, defaultLookaheadHours)
		if prediction.Prediction != "warning" {
			continue
		}
		suggestions = append(suggestions, map[string]any{
			"pod":            key.Pod,
			"issue":          prediction.Type,
			"recommendation": prediction.Recommendation,
			"urgency":        prediction.Urgency,
		})
	}

	return map[string]any{
		"namespace":   p.Namespace,
		"suggestions": suggestions,
		"count":       len(suggestions),
	}, nil
}

// RestartPattern flags a pod whose cumulative restarts exceed the frequent
// threshold.
type RestartPattern struct {
	Pod          string `json:"pod"`
	RestartCount int32  `json:"restart_count"`
	Severity     string `json:"severity"`
}

// EventPattern groups warning events that repeat with the same reason.
type EventPattern struct {
	Reason  string `json:"reason"`
	Count   int    `json:"count"`
	Example string `json:"example"`
}

const repeatedEventThreshold = 3

func (e *Executor) identifyFailurePatterns(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	var frequentRestarts []RestartPattern
	for _, key := range e.history.Keys() {
		if key.Namespace != p.Namespace {
			continue
		}
		samples := e.history.History(key)
		if len(samples) == 0 {
			continue
		}
		latest := samples[len(samples)-1]
		if latest.Restarts > frequentRestartThreshold {
			severity := "medium"
			if latest.Restarts > highSeverityRestarts {
				severity = "high"
			}
			frequentRestarts = append(frequentRestarts, RestartPattern{
				Pod:          key.Pod,
				RestartCount: latest.Restarts,
				Severity:     severity,
			})
		}
	}

	events, err := e.clients.Core.CoreV1().Events(p.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}
	byReason := make(map[string][]string)
	for _, ev := range events.Items {
		if ev.Type != "Warning" {
			continue
		}
		byReason[ev.Reason] = append(byReason[ev.Reason], ev.Message)
	}
	var repeated []EventPattern
	for reason, messages := range byReason {
		if len(messages) >= repeatedEventThreshold {
			repeated = append(repeated, EventPattern{
				Reason:  reason,
				Count:   len(messages),
				Example: messages[0],
			})
		}
	}

	var recommendations []string
	if len(frequentRestarts) > 0 {
		recommendations = append(recommendations, fmt.Sprintf(
			"%d pods with frequent restarts detected. Investigate resource limits, liveness probes, and application stability.",
			len(frequentRestarts)))
	}
	if len(repeated) > 0 {
		recommendations = append(recommendations, fmt.Sprintf(
			"%d warning-event patterns repeating. Check the underlying resources for the listed reasons.",
			len(repeated)))
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "No concerning patterns detected. System appears healthy.")
	}

	return map[string]any{
		"namespace": p.Namespace,
		"patterns_found": map[string]any{
			"frequent_restarts": frequentRestarts,
			"repeated_warnings": repeated,
		},
		"analysis_time":   time.Now().UTC().Format(time.RFC3339),
		"recommendations": recommendations,
	}, nil
}

func (e *Executor) predictScalingNeeds(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace       string `json:"namespace"`
		Deployment      string `json:"deployment"`
		CurrentReplicas int    `json:"current_replicas"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	unhealthy, total := 0, 0
	for _, key := range e.history.Keys() {
		if key.Namespace != p.Namespace {
			continue
		}
		samples := e.history.History(key)
		if len(samples) == 0 {
			continue
		}
		total++
		if samples[len(samples)-1].Restarts > unhealthyRestartThreshold {
			unhealthy++
		}
	}

	if total == 0 {
		return map[string]any{
			"prediction": "insufficient_data",
			"message":    "No pod metrics available; run kubectl_top_pods first",
		}, nil
	}

	ratio := float64(unhealthy) / float64(total)
	switch {
	case ratio > unhealthyRatioThreshold:
		recommended := min(p.CurrentReplicas+scaleUpIncrement, scaleUpCap)
		return map[string]any{
			"prediction":           "scale_up_recommended",
			"deployment":           p.Deployment,
			"namespace":            p.Namespace,
			"current_replicas":     p.CurrentReplicas,
			"recommended_replicas": recommended,
			"reason":               fmt.Sprintf("%.1f%% of pods showing issues", ratio*100),
			"urgency":              "high",
			"action":               "Consider scaling up to handle load better",
		}, nil
	case unhealthy == 0 && p.CurrentReplicas > scaleDownFloor:
		recommended := max(p.CurrentReplicas-1, scaleDownFloor)
		return map[string]any{
			"prediction":           "scale_down_possible",
			"deployment":           p.Deployment,
			"namespace":            p.Namespace,
			"current_replicas":     p.CurrentReplicas,
			"recommended_replicas": recommended,
			"reason":               "All pods healthy, may be over-provisioned",
			"urgency":              "low",
			"action":               "Consider scaling down to save resources",
		}, nil
	}

	return map[string]any{
		"prediction":       "no_scaling_needed",
		"deployment":       p.Deployment,
		"current_replicas": p.CurrentReplicas,
		"message":          "Current replica count appears optimal",
	}, nil
}
