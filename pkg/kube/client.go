package kube

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

var (
	once         sync.Once
	cachedClient *kubernetes.Clientset
	cachedConfig *rest.Config
	initErr      error
)

// GetClient returns the process-wide Kubernetes client, building it on
// first use. The healer talks to one cluster per process, so the state
// store, the actuator and the feature reader all share this connection.
// The rest.Config comes back alongside because the pod exec transport
// needs it directly.
func GetClient() (*kubernetes.Clientset, *rest.Config, error) {
	once.Do(func() {
		cachedClient, cachedConfig, initErr = NewClient("")
	})
	return cachedClient, cachedConfig, initErr
}

// NewClient builds a fresh client outside the singleton, for callers
// that target a specific kubeconfig. An empty path walks the discovery
// order: $KUBECONFIG, then ~/.kube/config, then the in-cluster service
// account when neither exists.
func NewClient(kubeconfig string) (*kubernetes.Clientset, *rest.Config, error) {
	if kubeconfig == "" {
		kubeconfig = discoverKubeconfig()
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build kube config: %w", err)
	}

	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, config, nil
}

// discoverKubeconfig picks the kubeconfig path, or "" to let client-go
// fall through to in-cluster config.
func discoverKubeconfig() string {
	if path := os.Getenv("KUBECONFIG"); path != "" {
		return path
	}
	path := filepath.Join(homedir.HomeDir(), ".kube", "config")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
