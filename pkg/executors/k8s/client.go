// Package k8s implements the Kubernetes tool handlers: the kubectl-style
// primitives plus the derived analysis, self-healing, prediction, and
// security operations built on top of them.
package k8s

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Clients bundles the API surfaces the executor needs. Metrics may be nil
// when no metrics-server is reachable; handlers that need it report that as
// a tool error rather than failing at startup.
type Clients struct {
	Core    kubernetes.Interface
	Metrics metricsclient.Interface
}

// NewClients connects to the cluster, preferring in-cluster credentials and
// falling back to a kubeconfig file (the given path, or ~/.kube/config).
func NewClients(kubeconfigPath string) (*Clients, error) {
	config, err := buildConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	metrics, err := metricsclient.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}

	return &Clients{Core: clientset, Metrics: metrics}, nil
}

func buildConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
		homeDir, _ := os.UserHomeDir()
		if homeDir != "" {
			kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
		}
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
		&clientcmd.ConfigOverrides{},
	).ClientConfig()
}

// NewClientsForTest wraps pre-built clientsets, typically fakes.
func NewClientsForTest(core kubernetes.Interface, metrics metricsclient.Interface) *Clients {
	return &Clients{Core: core, Metrics: metrics}
}
