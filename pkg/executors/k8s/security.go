package k8s

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/atlasops/atlas/pkg/agent"
)

// SecurityIssue is one finding from scan_pod_security.
type SecurityIssue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Container   string `json:"container,omitempty"`
	Description string `json:"description"`
}

// SecurityFix pairs a finding with its remediation.
type SecurityFix struct {
	Issue     string `json:"issue"`
	Container string `json:"container,omitempty"`
	Fix       string `json:"fix"`
}

// Capability adds that grant host-level powers.
var dangerousCapabilities = map[corev1.Capability]bool{
	"ALL":        true,
	"SYS_ADMIN":  true,
	"NET_ADMIN":  true,
	"SYS_PTRACE": true,
	"SYS_MODULE": true,
}

func (e *Executor) scanPodSecurity(ctx context.Context, raw json.RawMessage) (any, error) {
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

	issues, fixes := scanPodSpec(&pod.Spec)

	severity := map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0}
	for _, issue := range issues {
		severity[issue.Severity]++
	}

	return map[string]any{
		"pod":              p.PodName,
		"namespace":        p.Namespace,
		"issues_found":     len(issues),
		"issues":           issues,
		"recommendations":  fixes,
		"severity_summary": severity,
	}, nil
}

// scanPodSpec runs the security checks over one pod spec: per-container user,
// limits, privilege, and capability checks, plus pod-level host network.
func scanPodSpec(spec *corev1.PodSpec) ([]SecurityIssue, []SecurityFix) {
	var issues []SecurityIssue
	var fixes []SecurityFix

	podRunAsNonRoot := spec.SecurityContext != nil &&
		spec.SecurityContext.RunAsNonRoot != nil && *spec.SecurityContext.RunAsNonRoot

	for i := range spec.Containers {
		c := &spec.Containers[i]
		sc := c.SecurityContext

		runAsNonRoot := podRunAsNonRoot
		if sc != nil && sc.RunAsNonRoot != nil {
			runAsNonRoot = *sc.RunAsNonRoot
		}
		if !runAsNonRoot {
			issues = append(issues, SecurityIssue{
				Type:        "running_as_root",
				Severity:    "high",
				Container:   c.Name,
				Description: "Container may be running as root user",
			})
			fixes = append(fixes, SecurityFix{
				Issue:     "running_as_root",
				Container: c.Name,
				Fix:       "Set securityContext.runAsNonRoot: true and runAsUser: 1000",
			})
		}

		limits := c.Resources.Limits
		if limits.Cpu().IsZero() || limits.Memory().IsZero() {
			issues = append(issues, SecurityIssue{
				Type:        "missing_resource_limits",
				Severity:    "medium",
				Container:   c.Name,
				Description: "Missing CPU or memory limits",
			})
			fixes = append(fixes, SecurityFix{
				Issue:     "missing_resource_limits",
				Container: c.Name,
				Fix:       "Add resources.limits.cpu and resources.limits.memory",
			})
		}

		if sc != nil && sc.Privileged != nil && *sc.Privileged {
			issues = append(issues, SecurityIssue{
				Type:        "privileged_container",
				Severity:    "critical",
				Container:   c.Name,
				Description: "Container running in privileged mode",
			})
			fixes = append(fixes, SecurityFix{
				Issue:     "privileged_container",
				Container: c.Name,
				Fix:       "Remove securityContext.privileged or set to false",
			})
		}

		var added []corev1.Capability
		dropsAll := false
		if sc != nil && sc.Capabilities != nil {
			for _, capability := range sc.Capabilities.Add {
				if dangerousCapabilities[capability] {
					added = append(added, capability)
				}
			}
			for _, capability := range sc.Capabilities.Drop {
				if capability == "ALL" {
					dropsAll = true
				}
			}
		}
		if len(added) > 0 {
			issues = append(issues, SecurityIssue{
				Type:        "dangerous_capabilities",
				Severity:    "high",
				Container:   c.Name,
				Description: fmt.Sprintf("Container adds dangerous capabilities: %v", added),
			})
			fixes = append(fixes, SecurityFix{
				Issue:     "dangerous_capabilities",
				Container: c.Name,
				Fix:       "Remove securityContext.capabilities.add entries",
			})
		}
		if !dropsAll {
			issues = append(issues, SecurityIssue{
				Type:        "insecure_capabilities",
				Severity:    "medium",
				Container:   c.Name,
				Description: "Not dropping all Linux capabilities",
			})
			fixes = append(fixes, SecurityFix{
				Issue:     "insecure_capabilities",
				Container: c.Name,
				Fix:       "Set securityContext.capabilities.drop: [ALL]",
			})
		}
	}

	if spec.HostNetwork {
		issues = append(issues, SecurityIssue{
			Type:        "host_network_access",
			Severity:    "high",
			Description: "Pod has access to host network",
		})
		fixes = append(fixes, SecurityFix{
			Issue: "host_network_access",
			Fix:   "Remove spec.hostNetwork or set to false",
		})
	}

	return issues, fixes
}

func (e *Executor) autoFixSecurityIssue(ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Namespace string `json:"namespace"`
		PodName   string `json:"pod_name"`
		IssueType string `json:"issue_type"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &agent.BadParamsError{Detail: err.Error()}
	}

	deploymentName, err := e.owningDeployment(ctx, p.Namespace, p.PodName)
	if err != nil {
		return nil, err
	}

	dep, err := e.clients.Core.AppsV1().Deployments(p.Namespace).Get(ctx, deploymentName, metav1.GetOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}
	containerNames := make([]string, 0, len(dep.Spec.Template.Spec.Containers))
	for _, c := range dep.Spec.Template.Spec.Containers {
		containerNames = append(containerNames, c.Name)
	}

	patch, description, err := securityPatch(p.IssueType, containerNames)
	if err != nil {
		return nil, err
	}
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal security patch: %w", err)
	}

	_, err = e.clients.Core.AppsV1().Deployments(p.Namespace).Patch(
		ctx, deploymentName, types.StrategicMergePatchType, patchBytes, metav1.PatchOptions{})
	if err != nil {
		return nil, mapAPIError(err)
	}

	e.logger.Info("applied security fix",
		"namespace", p.Namespace,
		"deployment", deploymentName,
		"issue_type", p.IssueType)
	return map[string]any{
		"action":      "security_auto_fix",
		"issue_type":  p.IssueType,
		"pod":         p.PodName,
		"deployment":  deploymentName,
		"namespace":   p.Namespace,
		"fix_applied": description,
		"note":        "Pods will be recreated with the new security settings",
	}, nil
}

// owningDeployment walks pod -> ReplicaSet -> Deployment owner references.
func (e *Executor) owningDeployment(ctx context.Context, namespace, podName string) (string, error) {
	pod, err := e.clients.Core.CoreV1().Pods(namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return "", mapAPIError(err)
	}

	var replicaSetName string
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "ReplicaSet" {
			replicaSetName = ref.Name
			break
		}
	}
	if replicaSetName == "" {
		return "", fmt.Errorf("pod %s has no owning deployment; security settings cannot be patched in place", podName)
	}

	rs, err := e.clients.Core.AppsV1().ReplicaSets(namespace).Get(ctx, replicaSetName, metav1.GetOptions{})
	if err != nil {
		return "", mapAPIError(err)
	}
	for _, ref := range rs.OwnerReferences {
		if ref.Kind == "Deployment" {
			return ref.Name, nil
		}
	}
	return "", fmt.Errorf("pod %s has no owning deployment; security settings cannot be patched in place", podName)
}

// securityPatch builds the strategic merge patch for one issue type against
// the deployment's pod template.
func securityPatch(issueType string, containerNames []string) (map[string]any, string, error) {
	containerPatch := func(fields map[string]any) map[string]any {
		containers := make([]map[string]any, 0, len(containerNames))
		for _, name := range containerNames {
			entry := map[string]any{"name": name}
			for k, v := range fields {
				entry[k] = v
			}
			containers = append(containers, entry)
		}
		return map[string]any{
			"spec": map[string]any{
				"template": map[string]any{
					"spec": map[string]any{"containers": containers},
				},
			},
		}
	}

	switch issueType {
	case "running_as_root":
		return containerPatch(map[string]any{
			"securityContext": map[string]any{"runAsNonRoot": true, "runAsUser": 1000},
		}), "Applied runAsNonRoot: true and runAsUser: 1000", nil
	case "missing_resource_limits":
		return containerPatch(map[string]any{
			"resources": map[string]any{
				"limits": map[string]any{"cpu": "500m", "memory": "512Mi"},
			},
		}), "Applied CPU/memory limits (500m / 512Mi)", nil
	case "privileged_container":
		return containerPatch(map[string]any{
			"securityContext": map[string]any{"privileged": false},
		}), "Removed privileged mode", nil
	case "insecure_capabilities":
		return containerPatch(map[string]any{
			"securityContext": map[string]any{
				"capabilities": map[string]any{"drop": []string{"ALL"}},
			},
		}), "Dropped all Linux capabilities", nil
	case "dangerous_capabilities":
		return containerPatch(map[string]any{
			"securityContext": map[string]any{
				"capabilities": map[string]any{"add": nil, "drop": []string{"ALL"}},
			},
		}), "Removed capability adds and dropped all Linux capabilities", nil
	case "host_network_access":
		return map[string]any{
			"spec": map[string]any{
				"template": map[string]any{
					"spec": map[string]any{"hostNetwork": false},
				},
			},
		}, "Disabled host network access", nil
	default:
		return nil, "", &agent.BadParamsError{Detail: fmt.Sprintf("unknown issue type: %s", issueType)}
	}
}
