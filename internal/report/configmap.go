package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Publisher stores inventories in a ConfigMap.
type Publisher struct {
	client    kubernetes.Interface
	namespace string
	name      string
}

// NewPublisher creates a Publisher writing namespace/name through client.
func NewPublisher(client kubernetes.Interface, namespace, name string) *Publisher {
	return &Publisher{client: client, namespace: namespace, name: name}
}

// NewClient builds a clientset from the in-cluster config, falling back to
// kubeconfig, then $KUBECONFIG, then ~/.kube/config.
func NewClient(kubeconfig string) (kubernetes.Interface, error) {
	config, err := restConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(config)
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig == "" {
		home, _ := os.UserHomeDir()
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// Publish creates or updates the ConfigMap with the inventory. The keys
// are disks.json, requirements.json and run_id.
func (p *Publisher) Publish(ctx context.Context, inv *Inventory) error {
	disks, err := json.Marshal(inv.Disks)
	if err != nil {
		return fmt.Errorf("encode disks: %w", err)
	}
	reqs, err := json.Marshal(inv.Requirements)
	if err != nil {
		return fmt.Errorf("encode requirements: %w", err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.name,
			Namespace: p.namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "disk-harness",
			},
			Annotations: map[string]string{
				"disk-harness/target":       inv.Target,
				"disk-harness/generated-at": inv.GeneratedAt.Format(time.RFC3339),
			},
		},
		Data: map[string]string{
			"run_id":            inv.RunID,
			"disks.json":        string(disks),
			"requirements.json": string(reqs),
		},
	}

	api := p.client.CoreV1().ConfigMaps(p.namespace)
	existing, err := api.Get(ctx, p.name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		if _, err := api.Create(ctx, cm, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("create configmap %s/%s: %w", p.namespace, p.name, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get configmap %s/%s: %w", p.namespace, p.name, err)
	}

	cm.ResourceVersion = existing.ResourceVersion
	if _, err := api.Update(ctx, cm, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update configmap %s/%s: %w", p.namespace, p.name, err)
	}
	return nil
}
