package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"
)

func TestPublishCreates(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	p := NewPublisher(clientset, "ci", "dut-07-disks")

	if err := p.Publish(context.Background(), sampleInventory(t)); err != nil {
		t.Fatal(err)
	}

	cm, err := clientset.CoreV1().ConfigMaps("ci").Get(context.Background(), "dut-07-disks", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("configmap should exist: %v", err)
	}
	if cm.Data["run_id"] != "run-1" {
		t.Errorf("unexpected run_id %q", cm.Data["run_id"])
	}
	if !strings.Contains(cm.Data["disks.json"], `"serial":"N1"`) {
		t.Errorf("unexpected disks.json %s", cm.Data["disks.json"])
	}
	if !strings.Contains(cm.Data["requirements.json"], `"name":"fast"`) {
		t.Errorf("unexpected requirements.json %s", cm.Data["requirements.json"])
	}
	if cm.Labels["app.kubernetes.io/managed-by"] != "disk-harness" {
		t.Errorf("missing managed-by label: %v", cm.Labels)
	}
}

func TestPublishUpdates(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "dut-07-disks", Namespace: "ci"},
		Data:       map[string]string{"run_id": "old", "stale": "x"},
	})
	p := NewPublisher(clientset, "ci", "dut-07-disks")

	if err := p.Publish(context.Background(), sampleInventory(t)); err != nil {
		t.Fatal(err)
	}
	cm, err := clientset.CoreV1().ConfigMaps("ci").Get(context.Background(), "dut-07-disks", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if cm.Data["run_id"] != "run-1" {
		t.Errorf("expected updated run_id, got %q", cm.Data["run_id"])
	}
	if _, ok := cm.Data["stale"]; ok {
		t.Error("stale keys should be replaced")
	}
}

func TestPublishAPIError(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("create", "configmaps", func(ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("forbidden")
	})
	p := NewPublisher(clientset, "ci", "dut-07-disks")

	err := p.Publish(context.Background(), sampleInventory(t))
	if err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("expected create error, got %v", err)
	}
}
