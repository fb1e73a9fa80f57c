package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TierLimits holds the per-tier sizing presets for one resource dimension.
// Max doubles as the ceiling applied to caller-supplied integer values.
type TierLimits struct {
	Micro float64 `mapstructure:"micro"`
	Low   float64 `mapstructure:"low"`
	High  float64 `mapstructure:"high"`
	Turbo float64 `mapstructure:"turbo"`
	Max   float64 `mapstructure:"max"`
}

// HookHandler describes one lifecycle hook action in configuration form.
type HookHandler struct {
	Exec     []string `mapstructure:"exec"`
	HTTPPath string   `mapstructure:"http_path"`
	HTTPPort int      `mapstructure:"http_port"`
}

// Lifecycle carries the optional post-start / pre-stop hooks applied to the
// build container.
type Lifecycle struct {
	PostStart *HookHandler `mapstructure:"post_start"`
	PreStop   *HookHandler `mapstructure:"pre_stop"`
}

// SecretMount mounts a named cluster secret into the build container.
type SecretMount struct {
	SecretName string `mapstructure:"secret_name"`
	MountPath  string `mapstructure:"mount_path"`
}

// VolumeMount mounts an extra host path into the build container.
type VolumeMount struct {
	Name     string `mapstructure:"name"`
	HostPath string `mapstructure:"host_path"`
	Path     string `mapstructure:"path"`
	ReadOnly bool   `mapstructure:"read_only"`
}

// KubeConfig points the executor at the cluster orchestrator API.
type KubeConfig struct {
	Host           string `mapstructure:"host"`
	TokenPath      string `mapstructure:"token_path"`
	Namespace      string `mapstructure:"namespace"`
	ServiceAccount string `mapstructure:"service_account"`
	InsecureTLS    bool   `mapstructure:"insecure_tls"`
}

// DockerConfig sizes the optional docker-in-docker sidecar.
type DockerConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	Image   string     `mapstructure:"image"`
	CPU     TierLimits `mapstructure:"cpu"`
	Memory  TierLimits `mapstructure:"memory"`
}

// CacheConfig controls the shared build-cache volume.
type CacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPath  string `mapstructure:"host_path"`
	MountPath string `mapstructure:"mount_path"`
}

// ExecutorConfig is the immutable runtime configuration, loaded once at
// startup. Every default lives in the SetDefault table in Load.
type ExecutorConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	RedisURL     string `mapstructure:"redis_url"`
	BuildAPIURL  string `mapstructure:"build_api_url"`
	TemplatePath string `mapstructure:"template_path"`
	LaunchImage  string `mapstructure:"launch_image"`
	Prefix       string `mapstructure:"prefix"`

	Kube   KubeConfig   `mapstructure:"kube"`
	Docker DockerConfig `mapstructure:"docker"`
	Cache  CacheConfig  `mapstructure:"cache"`

	CPU    TierLimits `mapstructure:"cpu"`
	Memory TierLimits `mapstructure:"memory"`

	BuildTimeoutMinutes int `mapstructure:"build_timeout_minutes"`
	MaxTimeoutMinutes   int `mapstructure:"max_timeout_minutes"`

	ScheduleAttempts  int           `mapstructure:"schedule_attempts"`
	ScheduleDelay     time.Duration `mapstructure:"schedule_delay"`
	ReadyAttempts     int           `mapstructure:"ready_attempts"`
	ReadyDelay        time.Duration `mapstructure:"ready_delay"`
	InterPhaseDelay   time.Duration `mapstructure:"inter_phase_delay"`
	VerifyAttempts    int           `mapstructure:"verify_attempts"`
	VerifyDelay       time.Duration `mapstructure:"verify_delay"`
	BreakerThreshold  uint32        `mapstructure:"breaker_threshold"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	DiskSpeedLabelKey string        `mapstructure:"disk_speed_label_key"`

	NodeSelectors          map[string]string `mapstructure:"node_selectors"`
	PreferredNodeSelectors map[string]string `mapstructure:"preferred_node_selectors"`
	Annotations            map[string]string `mapstructure:"annotations"`
	Labels                 map[string]string `mapstructure:"labels"`
	VolumeMounts           []VolumeMount     `mapstructure:"volume_mounts"`
	Secrets                []SecretMount     `mapstructure:"secrets"`
	Lifecycle              *Lifecycle        `mapstructure:"lifecycle"`
}

// Load reads executor configuration from defaults, files, and env vars.
func Load() (ExecutorConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("EXECUTOR")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8087")
	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("build_api_url", "https://api.screwdriver.cd")
	v.SetDefault("template_path", "./configs/pod.yaml.tmpl")
	v.SetDefault("launch_image", "screwdrivercd/launcher:stable")
	v.SetDefault("prefix", "")

	v.SetDefault("kube.host", "https://kubernetes.default")
	v.SetDefault("kube.token_path", "/var/run/secrets/kubernetes.io/serviceaccount/token")
	v.SetDefault("kube.namespace", "default")
	v.SetDefault("kube.service_account", "default")
	v.SetDefault("kube.insecure_tls", false)

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.image", "docker:dind")
	v.SetDefault("docker.cpu", tierDefaults(0.5, 2, 6, 12, 12))
	v.SetDefault("docker.memory", tierDefaults(1, 2, 12, 16, 16))

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.host_path", "/opt/screwdriver/cache")
	v.SetDefault("cache.mount_path", "/sd/cache")

	v.SetDefault("cpu", tierDefaults(0.5, 2, 6, 12, 12))
	v.SetDefault("memory", tierDefaults(1, 2, 12, 16, 16))

	v.SetDefault("build_timeout_minutes", 90)
	v.SetDefault("max_timeout_minutes", 120)

	v.SetDefault("schedule_attempts", 5)
	v.SetDefault("schedule_delay", 3*time.Second)
	v.SetDefault("ready_attempts", 5)
	v.SetDefault("ready_delay", 3*time.Second)
	v.SetDefault("inter_phase_delay", 3*time.Second)
	v.SetDefault("verify_attempts", 10)
	v.SetDefault("verify_delay", 10*time.Second)
	v.SetDefault("breaker_threshold", 5)
	v.SetDefault("breaker_cooldown", 30*time.Second)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("disk_speed_label_key", "screwdriver.cd/diskSpeed")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return ExecutorConfig{}, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg ExecutorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ExecutorConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func tierDefaults(micro, low, high, turbo, max float64) map[string]float64 {
	return map[string]float64{
		"micro": micro,
		"low":   low,
		"high":  high,
		"turbo": turbo,
		"max":   max,
	}
}
