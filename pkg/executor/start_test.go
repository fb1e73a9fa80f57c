package executor

import (
	"context"
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"

	"github.com/screwdriver-cd/executor-k8s/pkg/buildapi"
	"github.com/screwdriver-cd/executor-k8s/pkg/kube"
)

type fakeCluster struct {
	calls     []string
	statuses  []*corev1.Pod
	createErr error
	deleteErr error
	listPods  []corev1.Pod
	selector  string
}

func (f *fakeCluster) CreatePod(ctx context.Context, pod *corev1.Pod) (string, error) {
	f.calls = append(f.calls, "create")
	if f.createErr != nil {
		return "", f.createErr
	}
	return pod.Name, nil
}

func (f *fakeCluster) PodStatus(ctx context.Context, name string, policy kube.PollPolicy) (*corev1.Pod, error) {
	f.calls = append(f.calls, "status")
	pod := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return pod, nil
}

func (f *fakeCluster) ListPods(ctx context.Context, selector string) ([]corev1.Pod, error) {
	f.calls = append(f.calls, "list")
	f.selector = selector
	return f.listPods, nil
}

func (f *fakeCluster) DeletePods(ctx context.Context, selector string) error {
	f.calls = append(f.calls, "delete")
	f.selector = selector
	return f.deleteErr
}

type fakeReporter struct {
	updates []buildapi.Update
}

func (f *fakeReporter) UpdateBuild(ctx context.Context, buildID int64, token string, update buildapi.Update) error {
	f.updates = append(f.updates, update)
	return nil
}

func newTestExecutor(cluster *fakeCluster, reporter *fakeReporter) *Executor {
	cfg := testConfig()
	cfg.ScheduleAttempts = 1
	cfg.ReadyAttempts = 1
	specs := NewSpecBuilder(cfg, testManifest, testLogger())
	return New(cfg, specs, cluster, reporter, testLogger())
}

func TestStartRunningOnFirstPoll(t *testing.T) {
	cluster := &fakeCluster{
		statuses: []*corev1.Pod{podWith(corev1.PodRunning, true, "", "node1")},
	}
	reporter := &fakeReporter{}
	e := newTestExecutor(cluster, reporter)

	stillPending, err := e.Start(context.Background(), testDescriptor())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if stillPending {
		t.Fatalf("running pod must not report still-pending")
	}

	// Exactly create + status before the interim report, then the ready poll.
	if got := strings.Join(cluster.calls, ","); got != "create,status,status" {
		t.Fatalf("call sequence = %s", got)
	}
	if len(reporter.updates) != 1 {
		t.Fatalf("reports = %d, want 1", len(reporter.updates))
	}
	update := reporter.updates[0]
	if update.Stats == nil || update.Stats.Hostname != "node1" {
		t.Fatalf("expected stats with hostname, got %#v", update)
	}
	if update.Stats.ImagePullStartTime.IsZero() {
		t.Fatalf("imagePullStartTime must be set")
	}
	if update.StatusMessage != "" {
		t.Fatalf("stats report must not carry a status message")
	}
}

func TestStartReportsWaitingWhenUnscheduled(t *testing.T) {
	cluster := &fakeCluster{
		statuses: []*corev1.Pod{
			podWith(corev1.PodPending, false, "", ""),
			podWith(corev1.PodPending, false, "", ""),
		},
	}
	reporter := &fakeReporter{}
	e := newTestExecutor(cluster, reporter)

	stillPending, err := e.Start(context.Background(), testDescriptor())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !stillPending {
		t.Fatalf("pending pod must report still-pending")
	}
	if len(reporter.updates) != 1 {
		t.Fatalf("reports = %d, want 1", len(reporter.updates))
	}
	update := reporter.updates[0]
	if update.Stats != nil {
		t.Fatalf("unscheduled build must not report stats, got %#v", update)
	}
	if update.StatusMessage != MsgWaitResources {
		t.Fatalf("status message = %q, want %q", update.StatusMessage, MsgWaitResources)
	}
}

func TestStartFailsFastOnImagePullError(t *testing.T) {
	cluster := &fakeCluster{
		statuses: []*corev1.Pod{podWith(corev1.PodPending, false, "ErrImagePull", "")},
	}
	reporter := &fakeReporter{}
	e := newTestExecutor(cluster, reporter)

	_, err := e.Start(context.Background(), testDescriptor())
	if err == nil {
		t.Fatalf("expected failure for ErrImagePull")
	}
	if !strings.Contains(err.Error(), MsgInvalidImage) {
		t.Fatalf("error = %q, want invalid-image diagnostic", err)
	}
	// Aborted during the scheduling wait: no interim report, no ready poll.
	if got := strings.Join(cluster.calls, ","); got != "create,status" {
		t.Fatalf("call sequence = %s", got)
	}
	if len(reporter.updates) != 0 {
		t.Fatalf("no reports expected, got %#v", reporter.updates)
	}
}

func TestStartFailsOnTerminalPhase(t *testing.T) {
	cluster := &fakeCluster{
		statuses: []*corev1.Pod{podWith(corev1.PodFailed, false, "", "")},
	}
	e := newTestExecutor(cluster, &fakeReporter{})

	_, err := e.Start(context.Background(), testDescriptor())
	if err == nil || !strings.Contains(err.Error(), "Pod status is: Failed") {
		t.Fatalf("error = %v, want terminal phase diagnostic", err)
	}
}
