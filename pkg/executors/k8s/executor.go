package k8s

import (
	"encoding/json"
	"log/slog"

	"github.com/atlasops/atlas/pkg/history"
	"github.com/atlasops/atlas/pkg/tools"
)

// Executor owns the cluster clients and the metric history, and exposes the
// Kubernetes tool handlers for registration.
type Executor struct {
	clients          *Clients
	history          history.Recorder
	defaultNamespace string
	logger           *slog.Logger
}

// NewExecutor creates the Kubernetes executor. defaultNamespace applies when
// a call omits its namespace; empty means all namespaces for list operations.
func NewExecutor(clients *Clients, recorder history.Recorder, defaultNamespace string, logger *slog.Logger) *Executor {
	return &Executor{
		clients:          clients,
		history:          recorder,
		defaultNamespace: defaultNamespace,
		logger:           logger.With("component", "k8s_executor"),
	}
}

// namespaceOrDefault resolves the effective namespace for a call.
func (e *Executor) namespaceOrDefault(ns string) string {
	if ns == "" {
		return e.defaultNamespace
	}
	return ns
}

// Register adds every Kubernetes tool to the catalog.
func (e *Executor) Register(reg *tools.Registry) error {
	specs := []struct {
		spec    tools.ToolSpec
		handler tools.Handler
	}{
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_get_pods",
				Description: "List all pods in a namespace or across all namespaces. Returns pod names, status, restarts, and age.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string", "description": "Kubernetes namespace (optional, all namespaces if not provided)"},
						"label_selector": {"type": "string", "description": "Label selector to filter pods (e.g., 'app=backend')"}
					}
				}`),
			},
			handler: e.getPods,
		},
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_get_pod_logs",
				Description: "Get logs from a specific pod. Can tail last N lines.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string", "description": "Kubernetes namespace"},
						"pod_name": {"type": "string", "description": "Name of the pod"},
						"container": {"type": "string", "description": "Container name (optional if pod has single container)"},
						"tail_lines": {"type": "integer", "minimum": 1, "description": "Number of lines to return from the end (default: 100)"}
					},
					"required": ["namespace", "pod_name"]
				}`),
			},
			handler: e.getPodLogs,
		},
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_describe_pod",
				Description: "Get detailed information about a pod including events, conditions, and container state.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"pod_name": {"type": "string"}
					},
					"required": ["namespace", "pod_name"]
				}`),
			},
			handler: e.describePod,
		},
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_get_deployments",
				Description: "List all deployments in a namespace with replica and readiness counts.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"}
					}
				}`),
			},
			handler: e.getDeployments,
		},
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_get_events",
				Description: "Get recent Kubernetes events, newest first (useful for debugging).",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string", "description": "Namespace (optional, all if not provided)"},
						"resource_name": {"type": "string", "description": "Filter events for a specific resource"},
						"limit": {"type": "integer", "minimum": 1, "description": "Maximum events to return (default: 50)"}
					}
				}`),
			},
			handler: e.getEvents,
		},
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_top_pods",
				Description: "Get current CPU and memory usage of pods (requires metrics-server).",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"}
					}
				}`),
			},
			handler: e.topPods,
		},
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_scale_deployment",
				Description: "DANGEROUS: Scale a deployment to the specified number of replicas (0-50).",
				Class:       tools.ClassDangerous,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"deployment_name": {"type": "string"},
						"replicas": {"type": "integer", "minimum": 0, "maximum": 50, "description": "Number of replicas (0-50)"}
					},
					"required": ["namespace", "deployment_name", "replicas"]
				}`),
			},
			handler: e.scaleDeployment,
		},
		{
			spec: tools.ToolSpec{
				Name:        "kubectl_delete_pod",
				Description: "DANGEROUS: Delete a pod (will be recreated by its deployment/statefulset).",
				Class:       tools.ClassDangerous,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"pod_name": {"type": "string"}
					},
					"required": ["namespace", "pod_name"]
				}`),
			},
			handler: e.deletePod,
		},
		{
			spec: tools.ToolSpec{
				Name:        "analyze_resource_efficiency",
				Description: "ANALYSIS: Compare actual pod usage against declared limits; flags over- and under-provisioned containers.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string", "description": "Namespace to analyze (default: configured default)"}
					}
				}`),
			},
			handler: e.analyzeResourceEfficiency,
		},
		{
			spec: tools.ToolSpec{
				Name:        "auto_restart_pod",
				Description: "SELF-HEALING: Restart a failed pod by deleting it immediately (recreated by its controller). This is a destructive operation.",
				Class:       tools.ClassDangerous,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"pod_name": {"type": "string"}
					},
					"required": ["namespace", "pod_name"]
				}`),
			},
			handler: e.autoRestartPod,
		},
		{
			spec: tools.ToolSpec{
				Name:        "auto_scale_if_needed",
				Description: "SELF-HEALING: Scale a deployment up by one replica when pods are not ready, up to max_replicas.",
				Class:       tools.ClassDangerous,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"deployment": {"type": "string"},
						"max_replicas": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum replicas to scale to (default: 10)"}
					},
					"required": ["namespace", "deployment"]
				}`),
			},
			handler: e.autoScaleIfNeeded,
		},
		{
			spec: tools.ToolSpec{
				Name:        "predict_resource_exhaustion",
				Description: "PREDICTIVE: Predict whether a pod will run out of resources in the next few hours based on trend analysis.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"pod_name": {"type": "string"},
						"lookahead_hours": {"type": "integer", "minimum": 1, "description": "Hours to look ahead (default: 3)"}
					},
					"required": ["namespace", "pod_name"]
				}`),
			},
			handler: e.predictResourceExhaustion,
		},
		{
			spec: tools.ToolSpec{
				Name:        "suggest_preemptive_actions",
				Description: "PREDICTIVE: Analyze a namespace and suggest preemptive actions to prevent issues.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"}
					},
					"required": ["namespace"]
				}`),
			},
			handler: e.suggestPreemptiveActions,
		},
		{
			spec: tools.ToolSpec{
				Name:        "identify_failure_patterns",
				Description: "PREDICTIVE: Identify restart and event patterns that might indicate systemic issues.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"}
					},
					"required": ["namespace"]
				}`),
			},
			handler: e.identifyFailurePatterns,
		},
		{
			spec: tools.ToolSpec{
				Name:        "predict_scaling_needs",
				Description: "PREDICTIVE: Predict whether a deployment will need scaling soon based on pod health trends.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"deployment": {"type": "string"},
						"current_replicas": {"type": "integer", "minimum": 0}
					},
					"required": ["namespace", "deployment", "current_replicas"]
				}`),
			},
			handler: e.predictScalingNeeds,
		},
		{
			spec: tools.ToolSpec{
				Name:        "scan_pod_security",
				Description: "SECURITY: Scan a pod spec for known-bad settings: root users, missing limits, privileged mode, capability adds, host network.",
				Class:       tools.ClassSafe,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"pod_name": {"type": "string"}
					},
					"required": ["namespace", "pod_name"]
				}`),
			},
			handler: e.scanPodSecurity,
		},
		{
			spec: tools.ToolSpec{
				Name:        "auto_fix_security_issue",
				Description: "DANGEROUS: Patch the pod's owning deployment to remediate one security issue; pods are recreated with the new settings.",
				Class:       tools.ClassDangerous,
				Schema: json.RawMessage(`{
					"type": "object",
					"properties": {
						"namespace": {"type": "string"},
						"pod_name": {"type": "string"},
						"issue_type": {
							"type": "string",
							"enum": ["running_as_root", "missing_resource_limits", "privileged_container", "insecure_capabilities", "dangerous_capabilities", "host_network_access"]
						}
					},
					"required": ["namespace", "pod_name", "issue_type"]
				}`),
			},
			handler: e.autoFixSecurityIssue,
		},
	}

	for _, s := range specs {
		if err := reg.Register(s.spec, s.handler); err != nil {
			return err
		}
	}
	return nil
}
