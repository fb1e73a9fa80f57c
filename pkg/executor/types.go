// Package executor turns build requests into cluster pod workloads, drives
// them through startup, and tears them down on request. Every operation is
// stateless and idempotent by label; nothing is persisted between calls.
package executor

import (
	"fmt"
	"strings"
)

// Logger is the minimal logging surface the executor needs. *slog.Logger
// satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BuildDescriptor is the immutable per-invocation input. ParentJobID must be
// supplied by the caller for pull-request builds; this component does not
// introspect tokens to find it.
type BuildDescriptor struct {
	BuildID     int64             `json:"buildId"`
	EventID     int64             `json:"eventId"`
	JobID       int64             `json:"jobId"`
	PipelineID  int64             `json:"pipelineId"`
	JobName     string            `json:"jobName"`
	Container   string            `json:"container"`
	Token       string            `json:"token"`
	ParentJobID int64             `json:"parentJobId,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Recognized annotation keys. Anything else in the annotation map is ignored.
const (
	AnnotationCPU       = "cpu"
	AnnotationRAM       = "ram"
	AnnotationDockerCPU = "dockerCpu"
	AnnotationDockerRAM = "dockerRam"
	AnnotationTimeout   = "timeout"
	AnnotationDiskSpeed = "diskSpeed"
)

const annotationDomain = "screwdriver.cd/"

// Annotation looks up a recognized key, tolerating the fully-qualified
// "screwdriver.cd/" form callers sometimes send.
func (d BuildDescriptor) Annotation(key string) (string, bool) {
	if v, ok := d.Annotations[key]; ok {
		return v, true
	}
	v, ok := d.Annotations[annotationDomain+key]
	return v, ok
}

// Selector returns the label selector identifying every pod of one build.
func Selector(prefix string, buildID int64) string {
	return fmt.Sprintf("sdbuild=%s%d", prefix, buildID)
}

// IsPullRequest reports whether a job name follows the pull-request naming
// pattern (PR-<number>, optionally suffixed with the job name).
func IsPullRequest(jobName string) bool {
	rest, ok := strings.CutPrefix(jobName, "PR-")
	if !ok || rest == "" {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return rest[i] == ':' && i > 0
		}
	}
	return true
}
