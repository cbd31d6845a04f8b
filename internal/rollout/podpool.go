package rollout

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/cloudkiln/kiln/internal/kube"
)

const revisionLabel = "kiln-revision"

// PodPoolConfig shapes the workload pods the pool launches.
type PodPoolConfig struct {
	// Namespace is where workload pods run.
	Namespace string
	// AppName labels the pods and prefixes their names.
	AppName string
	// Port is the container port the workload serves on.
	Port int32
	// HealthPath is the HTTP readiness probe path.
	HealthPath string
}

// PodPool is the pod-backed instance pool: one pod per workload instance,
// labelled with its revision number. Secret references recorded during
// provisioning are injected as env vars by name only; the pool never reads
// a secret value.
type PodPool struct {
	client *kube.Client
	cfg    PodPoolConfig
}

// NewPodPool creates a pod-backed pool.
func NewPodPool(client *kube.Client, cfg PodPoolConfig) *PodPool {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	return &PodPool{client: client, cfg: cfg}
}

// Start implements InstancePool.
func (p *PodPool) Start(ctx context.Context, rev *Revision) (string, error) {
	env, err := p.secretEnv(ctx)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-r%d-%s", p.cfg.AppName, rev.Number, uuid.NewString()[:8])
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: p.cfg.Namespace,
			Labels: map[string]string{
				"managed-by":             "kiln",
				"app.kubernetes.io/name": p.cfg.AppName,
				revisionLabel:            strconv.Itoa(rev.Number),
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			Containers: []corev1.Container{{
				Name:  p.cfg.AppName,
				Image: rev.Image,
				Env:   env,
				Ports: []corev1.ContainerPort{{ContainerPort: p.cfg.Port}},
				ReadinessProbe: &corev1.Probe{
					ProbeHandler: corev1.ProbeHandler{
						HTTPGet: &corev1.HTTPGetAction{
							Path: p.cfg.HealthPath,
							Port: intstr.FromInt32(p.cfg.Port),
						},
					},
				},
			}},
		},
	}

	created, err := p.client.CreatePod(ctx, pod)
	if err != nil {
		return "", fmt.Errorf("start instance for revision %d: %w", rev.Number, err)
	}
	return created.Name, nil
}

// Ready implements InstancePool.
func (p *PodPool) Ready(ctx context.Context, instanceID string) (bool, error) {
	return p.client.PodReady(ctx, p.cfg.Namespace, instanceID)
}

// Retire implements InstancePool.
func (p *PodPool) Retire(ctx context.Context, instanceID string) error {
	return p.client.DeletePod(ctx, p.cfg.Namespace, instanceID)
}

// Serving implements InstancePool.
func (p *PodPool) Serving(ctx context.Context) (map[int][]string, error) {
	selector := "managed-by=kiln,app.kubernetes.io/name=" + p.cfg.AppName
	pods, err := p.client.ListPods(ctx, p.cfg.Namespace, selector)
	if err != nil {
		return nil, err
	}

	out := make(map[int][]string)
	for _, pod := range pods {
		n, err := strconv.Atoi(pod.Labels[revisionLabel])
		if err != nil {
			continue
		}
		out[n] = append(out[n], pod.Name)
	}
	return out, nil
}

// secretEnv maps the projected secret references into env vars. Only names
// travel here; values stay inside the cluster's secret objects.
func (p *PodPool) secretEnv(ctx context.Context) ([]corev1.EnvVar, error) {
	refs, err := p.client.SecretRefs(ctx, p.cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("read secret references: %w", err)
	}

	env := make([]corev1.EnvVar, 0, len(refs))
	for envVar, secretName := range refs {
		env = append(env, corev1.EnvVar{
			Name: envVar,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
					Key:                  "value",
				},
			},
		})
	}
	sort.Slice(env, func(i, j int) bool { return env[i].Name < env[j].Name })
	return env, nil
}
