// Package kube wraps the Kubernetes API operations kiln performs inside a
// provisioned cluster: namespaces, secret-reference projection, and the
// workload pods the rollout controller manages.
package kube

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// RefsConfigMap is the per-namespace map projecting external secret
// references into workload environment variables. Only references are
// stored, never values.
const RefsConfigMap = "kiln-secret-refs"

// Client wraps the typed Kubernetes clientset.
type Client struct {
	clientset kubernetes.Interface
}

// NewFromKubeconfig creates a client from a kubeconfig file.
func NewFromKubeconfig(path string) (*Client, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("build kubeconfig from %s: %w", path, err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return &Client{clientset: clientset}, nil
}

// NewWithClientset wraps an existing clientset; tests pass a fake.
func NewWithClientset(cs kubernetes.Interface) *Client {
	return &Client{clientset: cs}
}

// EnsureNamespace creates the namespace if missing and reconciles labels.
func (c *Client) EnsureNamespace(ctx context.Context, name string, labels map[string]string) error {
	ns, err := c.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = c.clientset.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return nil
	}
	if ns.Labels == nil {
		ns.Labels = map[string]string{}
	}
	changed := false
	for k, v := range labels {
		if ns.Labels[k] != v {
			ns.Labels[k] = v
			changed = true
		}
	}
	if !changed {
		return nil
	}
	_, err = c.clientset.CoreV1().Namespaces().Update(ctx, ns, metav1.UpdateOptions{})
	return err
}

// NamespaceActive reports whether the namespace exists and is not
// terminating.
func (c *Client) NamespaceActive(ctx context.Context, name string) (bool, error) {
	ns, err := c.clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ns.Status.Phase != corev1.NamespaceTerminating, nil
}

// DeleteNamespace removes the namespace; missing is not an error.
func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// ProjectSecretRef records envVar -> secretName in the namespace's reference
// map so workload pods can mount it without kiln ever reading the value.
func (c *Client) ProjectSecretRef(ctx context.Context, namespace, envVar, secretName string) error {
	cms := c.clientset.CoreV1().ConfigMaps(namespace)
	cm, err := cms.Get(ctx, RefsConfigMap, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = cms.Create(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: RefsConfigMap, Namespace: namespace},
			Data:       map[string]string{envVar: secretName},
		}, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	if cm.Data[envVar] == secretName {
		return nil
	}
	cm.Data[envVar] = secretName
	_, err = cms.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

// SecretRefProjected reports whether the reference is recorded and whether
// the externally managed secret has arrived in the namespace.
func (c *Client) SecretRefProjected(ctx context.Context, namespace, envVar, secretName string) (projected, secretPresent bool, err error) {
	cm, err := c.clientset.CoreV1().ConfigMaps(namespace).Get(ctx, RefsConfigMap, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if cm.Data[envVar] != secretName {
		return false, false, nil
	}
	_, err = c.clientset.CoreV1().Secrets(namespace).Get(ctx, secretName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return true, false, nil
	}
	if err != nil {
		return true, false, err
	}
	return true, true, nil
}

// RemoveSecretRef drops one projection entry.
func (c *Client) RemoveSecretRef(ctx context.Context, namespace, envVar string) error {
	cms := c.clientset.CoreV1().ConfigMaps(namespace)
	cm, err := cms.Get(ctx, RefsConfigMap, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := cm.Data[envVar]; !ok {
		return nil
	}
	delete(cm.Data, envVar)
	_, err = cms.Update(ctx, cm, metav1.UpdateOptions{})
	return err
}

// SecretRefs returns the projection map for a namespace, used to build the
// workload pod environment.
func (c *Client) SecretRefs(ctx context.Context, namespace string) (map[string]string, error) {
	cm, err := c.clientset.CoreV1().ConfigMaps(namespace).Get(ctx, RefsConfigMap, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cm.Data))
	for k, v := range cm.Data {
		out[k] = v
	}
	return out, nil
}

// CreatePod starts one workload pod.
func (c *Client) CreatePod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error) {
	return c.clientset.CoreV1().Pods(pod.Namespace).Create(ctx, pod, metav1.CreateOptions{})
}

// DeletePod removes one workload pod; missing is not an error.
func (c *Client) DeletePod(ctx context.Context, namespace, name string) error {
	err := c.clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// PodReady reports whether the pod's readiness condition is true.
func (c *Client) PodReady(ctx context.Context, namespace, name string) (bool, error) {
	pod, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return podIsReady(pod), nil
}

// ListPods returns pods matching the label selector.
func (c *Client) ListPods(ctx context.Context, namespace, labelSelector string) ([]corev1.Pod, error) {
	list, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func podIsReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// IsRetryable classifies Kubernetes API errors the same way the cloud
// adapter classifies provider codes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) || apierrors.IsTooManyRequests(err) || apierrors.IsConflict(err) {
		return true
	}
	var statusErr *apierrors.StatusError
	return errors.As(err, &statusErr) && statusErr.ErrStatus.Code >= 500
}
