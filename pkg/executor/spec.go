package executor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/screwdriver-cd/executor-k8s/pkg/config"
	"github.com/screwdriver-cd/executor-k8s/pkg/template"
)

const (
	appLabel         = "screwdriver"
	tierLabel        = "builds"
	cacheVolumeName  = "build-cache"
	dockerSidecar    = "docker"
	preferredWeight  = 100
	tolerationEffect = corev1.TaintEffectNoSchedule
)

// SpecBuilder composes orchestrator-ready pod documents. Building is a pure
// transform: the same descriptor and configuration always yield the same
// document up to the randomized name suffix.
type SpecBuilder struct {
	cfg      config.ExecutorConfig
	manifest string
	tiers    *TierResolver
	docker   *TierResolver
	logger   Logger
}

// NewSpecBuilder wires a builder over one loaded configuration and manifest
// template.
func NewSpecBuilder(cfg config.ExecutorConfig, manifest string, logger Logger) *SpecBuilder {
	return &SpecBuilder{
		cfg:      cfg,
		manifest: manifest,
		tiers:    NewTierResolver(cfg.CPU, cfg.Memory, logger),
		docker:   NewTierResolver(cfg.Docker.CPU, cfg.Docker.Memory, logger),
		logger:   logger,
	}
}

// Build resolves a descriptor into a complete workload spec.
func (b *SpecBuilder) Build(desc BuildDescriptor) (*corev1.Pod, error) {
	prefixedID := fmt.Sprintf("%s%d", b.cfg.Prefix, desc.BuildID)

	// Pull-request builds share the parent job's cache but must not corrupt
	// it, so the mount goes read-only and the cache path follows the parent.
	cacheJobID := desc.JobID
	cacheReadOnly := false
	if IsPullRequest(desc.JobName) {
		cacheReadOnly = true
		if desc.ParentJobID > 0 {
			cacheJobID = desc.ParentJobID
		} else {
			b.logger.Warn("pull-request build without parent job id, cache will not be shared",
				"jobName", desc.JobName, "buildId", desc.BuildID)
		}
	}

	cpuRaw, cpuOK := desc.Annotation(AnnotationCPU)
	ramRaw, ramOK := desc.Annotation(AnnotationRAM)
	cpuMillis := b.tiers.CPU(cpuRaw, cpuOK)
	memoryGB := b.tiers.Memory(ramRaw, ramOK)

	timeout := b.resolveTimeout(desc)

	bindings := map[string]any{
		"pod_name":             prefixedID + "-" + nameSuffix(),
		"build_id_with_prefix": prefixedID,
		"build_id":             strconv.FormatInt(desc.BuildID, 10),
		"event_id":             strconv.FormatInt(desc.EventID, 10),
		"job_id":               strconv.FormatInt(desc.JobID, 10),
		"pipeline_id":          strconv.FormatInt(desc.PipelineID, 10),
		"container":            desc.Container,
		"token":                desc.Token,
		"timeout":              strconv.Itoa(timeout),
		"cpu":                  strconv.FormatInt(cpuMillis, 10),
		"memory":               formatGB(memoryGB),
		"namespace":            b.cfg.Kube.Namespace,
		"service_account":      b.cfg.Kube.ServiceAccount,
		"launch_image":         b.cfg.LaunchImage,
		"api_url":              b.cfg.BuildAPIURL,
		"cache_host_path":      fmt.Sprintf("%s/%d/%d", strings.TrimSuffix(b.cfg.Cache.HostPath, "/"), desc.PipelineID, cacheJobID),
		"cache_mount_path":     b.cfg.Cache.MountPath,
	}

	rendered, err := template.Render(b.manifest, bindings)
	if err != nil {
		return nil, err
	}
	pod, err := template.DecodePod(rendered)
	if err != nil {
		return nil, err
	}

	b.applyPlacement(pod, desc)
	b.applyMetadata(pod, prefixedID)
	b.applyCachePolicy(pod, prefixedID, cacheReadOnly)
	b.applyMounts(pod, prefixedID)
	b.applyLifecycle(pod, prefixedID)
	b.applyDockerSidecar(pod, desc)

	return pod, nil
}

func (b *SpecBuilder) resolveTimeout(desc BuildDescriptor) int {
	raw, ok := desc.Annotation(AnnotationTimeout)
	if !ok {
		return b.cfg.BuildTimeoutMinutes
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		b.logger.Warn("ignoring invalid timeout annotation", "value", raw)
		return b.cfg.BuildTimeoutMinutes
	}
	return min(v, b.cfg.MaxTimeoutMinutes)
}

// applyPlacement declares the node constraints: one toleration and one
// required match expression per required selector pair, plus a single
// weighted preferred term covering all preferred pairs.
func (b *SpecBuilder) applyPlacement(pod *corev1.Pod, desc BuildDescriptor) {
	required := make(map[string]string, len(b.cfg.NodeSelectors)+1)
	for k, v := range b.cfg.NodeSelectors {
		required[k] = v
	}
	if speed, ok := desc.Annotation(AnnotationDiskSpeed); ok && strings.TrimSpace(speed) != "" {
		required[b.cfg.DiskSpeedLabelKey] = strings.ToUpper(strings.TrimSpace(speed))
	}

	if len(required) > 0 {
		expressions := make([]corev1.NodeSelectorRequirement, 0, len(required))
		for _, k := range sortedKeys(required) {
			v := required[k]
			pod.Spec.Tolerations = append(pod.Spec.Tolerations, corev1.Toleration{
				Key:      k,
				Operator: corev1.TolerationOpEqual,
				Value:    v,
				Effect:   tolerationEffect,
			})
			expressions = append(expressions, corev1.NodeSelectorRequirement{
				Key:      k,
				Operator: corev1.NodeSelectorOpIn,
				Values:   []string{v},
			})
		}
		nodeAffinity(pod).RequiredDuringSchedulingIgnoredDuringExecution = &corev1.NodeSelector{
			NodeSelectorTerms: []corev1.NodeSelectorTerm{{MatchExpressions: expressions}},
		}
	}

	if len(b.cfg.PreferredNodeSelectors) > 0 {
		expressions := make([]corev1.NodeSelectorRequirement, 0, len(b.cfg.PreferredNodeSelectors))
		for _, k := range sortedKeys(b.cfg.PreferredNodeSelectors) {
			expressions = append(expressions, corev1.NodeSelectorRequirement{
				Key:      k,
				Operator: corev1.NodeSelectorOpIn,
				Values:   []string{b.cfg.PreferredNodeSelectors[k]},
			})
		}
		nodeAffinity(pod).PreferredDuringSchedulingIgnoredDuringExecution = append(
			nodeAffinity(pod).PreferredDuringSchedulingIgnoredDuringExecution,
			corev1.PreferredSchedulingTerm{
				Weight:     preferredWeight,
				Preference: corev1.NodeSelectorTerm{MatchExpressions: expressions},
			},
		)
	}
}

// applyMetadata overlays configured labels and annotations. The base label
// set always survives the overlay: it is what Stop and Verify select on.
func (b *SpecBuilder) applyMetadata(pod *corev1.Pod, prefixedID string) {
	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	for k, v := range b.cfg.Labels {
		pod.Labels[k] = v
	}
	pod.Labels["app"] = appLabel
	pod.Labels["tier"] = tierLabel
	pod.Labels["sdbuild"] = prefixedID

	if len(b.cfg.Annotations) > 0 && pod.Annotations == nil {
		pod.Annotations = map[string]string{}
	}
	for k, v := range b.cfg.Annotations {
		pod.Annotations[k] = v
	}
}

func (b *SpecBuilder) applyCachePolicy(pod *corev1.Pod, buildContainer string, readOnly bool) {
	if !readOnly {
		return
	}
	c := findContainer(pod, buildContainer)
	if c == nil {
		return
	}
	for i := range c.VolumeMounts {
		if c.VolumeMounts[i].Name == cacheVolumeName {
			c.VolumeMounts[i].ReadOnly = true
		}
	}
}

func (b *SpecBuilder) applyMounts(pod *corev1.Pod, buildContainer string) {
	c := findContainer(pod, buildContainer)
	if c == nil {
		return
	}

	hostPathType := corev1.HostPathDirectoryOrCreate
	for _, m := range b.cfg.VolumeMounts {
		pod.Spec.Volumes = append(pod.Spec.Volumes, corev1.Volume{
			Name: m.Name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: m.HostPath, Type: &hostPathType},
			},
		})
		c.VolumeMounts = append(c.VolumeMounts, corev1.VolumeMount{
			Name:      m.Name,
			MountPath: m.Path,
			ReadOnly:  m.ReadOnly,
		})
	}

	for _, s := range b.cfg.Secrets {
		volName := "secret-" + s.SecretName
		pod.Spec.Volumes = append(pod.Spec.Volumes, corev1.Volume{
			Name: volName,
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: s.SecretName},
			},
		})
		c.VolumeMounts = append(c.VolumeMounts, corev1.VolumeMount{
			Name:      volName,
			MountPath: s.MountPath,
			ReadOnly:  true,
		})
	}
}

// applyLifecycle attaches configured hooks to the build container only; a
// manifest without that container leaves the hooks unapplied.
func (b *SpecBuilder) applyLifecycle(pod *corev1.Pod, buildContainer string) {
	if b.cfg.Lifecycle == nil {
		return
	}
	c := findContainer(pod, buildContainer)
	if c == nil {
		return
	}
	c.Lifecycle = &corev1.Lifecycle{
		PostStart: hookHandler(b.cfg.Lifecycle.PostStart),
		PreStop:   hookHandler(b.cfg.Lifecycle.PreStop),
	}
}

func (b *SpecBuilder) applyDockerSidecar(pod *corev1.Pod, desc BuildDescriptor) {
	if !b.cfg.Docker.Enabled {
		return
	}

	cpuRaw, cpuOK := desc.Annotation(AnnotationDockerCPU)
	ramRaw, ramOK := desc.Annotation(AnnotationDockerRAM)
	cpuMillis := b.docker.CPU(cpuRaw, cpuOK)
	memoryGB := b.docker.Memory(ramRaw, ramOK)

	privileged := true
	limits := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(cpuMillis, resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(int64(memoryGB*(1<<30)), resource.BinarySI),
	}
	pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{
		Name:  dockerSidecar,
		Image: b.cfg.Docker.Image,
		SecurityContext: &corev1.SecurityContext{
			Privileged: &privileged,
		},
		Resources: corev1.ResourceRequirements{
			Limits:   limits,
			Requests: limits,
		},
	})
}

func hookHandler(h *config.HookHandler) *corev1.LifecycleHandler {
	if h == nil {
		return nil
	}
	if len(h.Exec) > 0 {
		return &corev1.LifecycleHandler{
			Exec: &corev1.ExecAction{Command: h.Exec},
		}
	}
	if h.HTTPPath != "" {
		return &corev1.LifecycleHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path: h.HTTPPath,
				Port: intstr.FromInt(h.HTTPPort),
			},
		}
	}
	return nil
}

func nodeAffinity(pod *corev1.Pod) *corev1.NodeAffinity {
	if pod.Spec.Affinity == nil {
		pod.Spec.Affinity = &corev1.Affinity{}
	}
	if pod.Spec.Affinity.NodeAffinity == nil {
		pod.Spec.Affinity.NodeAffinity = &corev1.NodeAffinity{}
	}
	return pod.Spec.Affinity.NodeAffinity
}

func findContainer(pod *corev1.Pod, name string) *corev1.Container {
	for i := range pod.Spec.Containers {
		if pod.Spec.Containers[i].Name == name {
			return &pod.Spec.Containers[i]
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatGB(gb float64) string {
	return strconv.FormatFloat(gb, 'f', -1, 64)
}

func nameSuffix() string {
	return uuid.NewString()[:8]
}
