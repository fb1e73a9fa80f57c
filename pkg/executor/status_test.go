package executor

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
)

func podWith(phase corev1.PodPhase, scheduled bool, waitingReason, node string) *corev1.Pod {
	pod := &corev1.Pod{}
	pod.Status.Phase = phase
	pod.Spec.NodeName = node
	if scheduled {
		pod.Status.Conditions = []corev1.PodCondition{
			{Type: corev1.PodScheduled, Status: corev1.ConditionTrue},
		}
	}
	if waitingReason != "" {
		pod.Status.ContainerStatuses = []corev1.ContainerStatus{
			{State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: waitingReason}}},
		}
	}
	return pod
}

func TestClassifyTerminalPhases(t *testing.T) {
	for _, phase := range []corev1.PodPhase{corev1.PodFailed, corev1.PodUnknown} {
		out := Classify(SnapshotOf(podWith(phase, true, "", "")))
		if out.Kind != OutcomeFail {
			t.Fatalf("phase %s: kind = %v, want fail", phase, out.Kind)
		}
		want := "Failed to create pod. Pod status is: " + string(phase)
		if out.Message != want {
			t.Fatalf("phase %s: message = %q, want %q", phase, out.Message, want)
		}
	}
}

func TestClassifyFatalWaitingReasons(t *testing.T) {
	adminReasons := []string{"CrashLoopBackOff", "CreateContainerConfigError", "CreateContainerError", "StartError"}
	for _, reason := range adminReasons {
		out := Classify(SnapshotOf(podWith(corev1.PodPending, true, reason, "")))
		if out.Kind != OutcomeFail || out.Message != MsgAdminHelp {
			t.Fatalf("reason %s: got %#v, want admin-help failure", reason, out)
		}
	}

	imageReasons := []string{"ErrImagePull", "ImagePullBackOff", "InvalidImageName"}
	for _, reason := range imageReasons {
		out := Classify(SnapshotOf(podWith(corev1.PodPending, true, reason, "")))
		if out.Kind != OutcomeFail || out.Message != MsgInvalidImage {
			t.Fatalf("reason %s: got %#v, want invalid-image failure", reason, out)
		}
	}
}

func TestClassifyTransient(t *testing.T) {
	for _, reason := range []string{"PodInitializing", "ContainerCreating", ""} {
		out := Classify(SnapshotOf(podWith(corev1.PodPending, false, reason, "")))
		if out.Kind != OutcomeWait {
			t.Fatalf("reason %q: kind = %v, want wait", reason, out.Kind)
		}
	}
}

func TestClassifySuccess(t *testing.T) {
	for _, phase := range []corev1.PodPhase{corev1.PodRunning, corev1.PodSucceeded} {
		out := Classify(SnapshotOf(podWith(phase, true, "", "node1")))
		if out.Kind != OutcomeReady {
			t.Fatalf("phase %s: kind = %v, want ready", phase, out.Kind)
		}
	}
}

func TestScheduleRetryPredicate(t *testing.T) {
	if !scheduleRetry(podWith(corev1.PodPending, false, "", "")) {
		t.Fatalf("unscheduled pending pod should keep polling")
	}
	if scheduleRetry(podWith(corev1.PodPending, true, "", "node1")) {
		t.Fatalf("scheduled pod should stop the scheduling wait")
	}
	// Fatal reasons short-circuit the wait instead of burning the budget.
	if scheduleRetry(podWith(corev1.PodPending, false, "ErrImagePull", "")) {
		t.Fatalf("fatal image reason should stop the scheduling wait")
	}
	if scheduleRetry(podWith(corev1.PodFailed, false, "", "")) {
		t.Fatalf("failed phase should stop the scheduling wait")
	}
}

func TestReadyRetryPredicate(t *testing.T) {
	if !readyRetry(podWith(corev1.PodPending, true, "PodInitializing", "node1")) {
		t.Fatalf("initializing pod should keep polling")
	}
	if readyRetry(podWith(corev1.PodRunning, true, "", "node1")) {
		t.Fatalf("running pod should stop the readiness wait")
	}
	if readyRetry(podWith(corev1.PodPending, true, "CrashLoopBackOff", "node1")) {
		t.Fatalf("fatal reason should stop the readiness wait")
	}
}

func TestSnapshotOf(t *testing.T) {
	pod := podWith(corev1.PodPending, true, "ImagePullBackOff", "node7")
	s := SnapshotOf(pod)
	if s.Phase != corev1.PodPending || !s.Scheduled || s.WaitingReason != "ImagePullBackOff" || s.NodeName != "node7" {
		t.Fatalf("unexpected snapshot %#v", s)
	}
}
