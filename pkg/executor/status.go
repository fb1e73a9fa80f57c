package executor

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// Diagnostic messages surfaced to build owners.
const (
	MsgAdminHelp     = "Build failed to start. Please reach out to your cluster admin for help."
	MsgInvalidImage  = "Build failed to start. Please check if your image is valid."
	MsgWaitResources = "Waiting for resources to be available."
)

// Waiting reasons that mean the workload can never start as configured.
var fatalAdminReasons = map[string]bool{
	"CrashLoopBackOff":           true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
	"StartError":                 true,
}

// Waiting reasons pointing at a bad or unpullable image.
var fatalImageReasons = map[string]bool{
	"ErrImagePull":     true,
	"ImagePullBackOff": true,
	"InvalidImageName": true,
}

// Waiting reasons that just mean the container has not started yet.
var transientReasons = map[string]bool{
	"PodInitializing":   true,
	"ContainerCreating": true,
}

// Snapshot is a point-in-time read of a submitted workload, extracted from
// one status poll and discarded after each decision.
type Snapshot struct {
	Phase         corev1.PodPhase
	Scheduled     bool
	WaitingReason string
	NodeName      string
}

// SnapshotOf condenses a pod's status into the fields the state machine
// cares about. The first waiting reason found wins; retried pods report the
// same reason on every container.
func SnapshotOf(pod *corev1.Pod) Snapshot {
	s := Snapshot{
		Phase:    pod.Status.Phase,
		NodeName: pod.Spec.NodeName,
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionTrue {
			s.Scheduled = true
			break
		}
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			s.WaitingReason = cs.State.Waiting.Reason
			break
		}
	}
	return s
}

// OutcomeKind tags a classification decision.
type OutcomeKind int

const (
	// OutcomeWait means the workload is still coming up; keep polling.
	OutcomeWait OutcomeKind = iota
	// OutcomeReady means the workload reached running or succeeded.
	OutcomeReady
	// OutcomeFail means the workload can never start; Message explains why.
	OutcomeFail
)

// Outcome is the tagged result of classifying one snapshot.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

// Classify applies the failure-classification table to one snapshot. It is a
// pure function so the polling loops and the table stay independently
// testable.
func Classify(s Snapshot) Outcome {
	switch s.Phase {
	case corev1.PodFailed, corev1.PodUnknown:
		return Outcome{
			Kind:    OutcomeFail,
			Message: fmt.Sprintf("Failed to create pod. Pod status is: %s", s.Phase),
		}
	case corev1.PodRunning, corev1.PodSucceeded:
		return Outcome{Kind: OutcomeReady}
	}

	switch {
	case fatalAdminReasons[s.WaitingReason]:
		return Outcome{Kind: OutcomeFail, Message: MsgAdminHelp}
	case fatalImageReasons[s.WaitingReason]:
		return Outcome{Kind: OutcomeFail, Message: MsgInvalidImage}
	}

	// Pending with a transient reason, or no reason reported yet.
	return Outcome{Kind: OutcomeWait}
}

// scheduleRetry is the "wait until scheduled" predicate: keep polling until
// the scheduling condition turns true, stopping early on anything fatal.
func scheduleRetry(pod *corev1.Pod) bool {
	s := SnapshotOf(pod)
	if Classify(s).Kind == OutcomeFail {
		return false
	}
	return !s.Scheduled
}

// readyRetry is the "wait until not pending" predicate: pending with only
// transient reasons keeps polling, anything classified keeps the response.
func readyRetry(pod *corev1.Pod) bool {
	s := SnapshotOf(pod)
	return Classify(s).Kind == OutcomeWait
}
