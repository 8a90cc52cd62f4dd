package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"notebook-agent/pkg/escapism"
)

const (
	LastActivityAnnotation = "notebook-agent/last-activity"

	serviceAccountNamespace = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)

// PodAnnotator records activity as an annotation on the notebook pod, for cullers that
// watch pods instead of the hub API.
type PodAnnotator struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string
}

// PodIdentity resolves the notebook pod from POD_NAME/POD_NAMESPACE, falling back to the
// kubespawner naming scheme and the service account namespace.
func PodIdentity(getenv func(string) string) (namespace string, name string, err error) {
	name = getenv("POD_NAME")
	if name == "" {
		user := getenv("JUPYTERHUB_USER")
		if user == "" {
			return "", "", fmt.Errorf("neither POD_NAME nor JUPYTERHUB_USER is set")
		}
		name = escapism.PodName(user, getenv("JUPYTERHUB_SERVER_NAME"))
	}

	namespace = getenv("POD_NAMESPACE")
	if namespace == "" {
		data, err := os.ReadFile(serviceAccountNamespace)
		if err != nil {
			return "", "", fmt.Errorf("cannot determine pod namespace: %w", err)
		}
		namespace = strings.TrimSpace(string(data))
	}
	return namespace, name, nil
}

func (a *PodAnnotator) ReportActivity(ctx context.Context, at time.Time) error {
	patch := map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]string{
				LastActivityAnnotation: at.UTC().Format(time.RFC3339),
			},
		},
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = a.Client.CoreV1().Pods(a.Namespace).Patch(ctx, a.Name, types.MergePatchType, data, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("cannot annotate pod %s/%s: %w", a.Namespace, a.Name, err)
	}
	return nil
}
