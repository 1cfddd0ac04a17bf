package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HydJing/conveyor/internal/domain"
	"github.com/HydJing/conveyor/internal/ledger"
	"github.com/HydJing/conveyor/internal/runner"
)

// fakeRunner — управляемый runner для тестов.
type fakeRunner struct {
	mu sync.Mutex

	// results — итог по JobID (по умолчанию SUCCEEDED).
	results map[string]runner.Result

	// unavailable — число инфраструктурных сбоев до успеха по JobID.
	unavailable map[string]int

	// block — job блокируется до закрытия канала или отмены ctx.
	block map[string]chan struct{}

	// calls — число вызовов Run по JobID.
	calls map[string]int

	// dispatches — последние Dispatch по JobID.
	dispatches map[string]runner.Dispatch

	// active/maxActive — текущее и пиковое число одновременных Run.
	active    int
	maxActive int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results:     make(map[string]runner.Result),
		unavailable: make(map[string]int),
		block:       make(map[string]chan struct{}),
		calls:       make(map[string]int),
		dispatches:  make(map[string]runner.Dispatch),
	}
}

func (f *fakeRunner) Run(ctx context.Context, d runner.Dispatch) (runner.Result, error) {
	f.mu.Lock()
	f.calls[d.Job.ID]++
	f.dispatches[d.Job.ID] = d
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	remaining := f.unavailable[d.Job.ID]
	if remaining > 0 {
		f.unavailable[d.Job.ID]--
	}
	blockCh := f.block[d.Job.ID]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if remaining > 0 {
		return runner.Result{}, fmt.Errorf("%w: agent offline", runner.ErrUnavailable)
	}

	if blockCh != nil {
		select {
		case <-ctx.Done():
			return runner.Result{}, ctx.Err()
		case <-blockCh:
		}
	}

	f.mu.Lock()
	res, ok := f.results[d.Job.ID]
	f.mu.Unlock()
	if !ok {
		res = runner.Result{Status: domain.ExecutionSucceeded}
	}
	return res, nil
}

func (f *fakeRunner) callCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[jobID]
}

func newTestScheduler(t *testing.T, r runner.Runner) *Scheduler {
	t.Helper()
	s, err := New(Config{
		Runner:    r,
		RetryBase: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testPipeline(jobs ...domain.JobSpec) *domain.Pipeline {
	return &domain.Pipeline{
		ID:   uuid.New(),
		Name: "webapp",
		Spec: domain.PipelineSpec{Name: "webapp", Jobs: jobs},
	}
}

func pushContext() domain.RunContext {
	return domain.RunContext{Pipeline: "webapp", Branch: "main", Event: domain.EventPush}
}

func mustWait(t *testing.T, h *RunHandle) domain.PipelineRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v (executions: %+v)", err, h.Executions())
	}
	return run
}

// waitExecutionStatus опрашивает статус execution до совпадения.
func waitExecutionStatus(t *testing.T, h *RunHandle, jobID string, want domain.ExecutionStatus) domain.JobExecution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, ok := h.Execution(jobID)
		if ok && exec.Status == want {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	exec, _ := h.Execution(jobID)
	t.Fatalf("job %s status = %s, want %s", jobID, exec.Status, want)
	return domain.JobExecution{}
}

func TestLaunch_LinearPipelineSucceeds(t *testing.T) {
	f := newFakeRunner()
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "lint"},
		domain.JobSpec{ID: "test", DependsOn: []string{"lint"}},
		domain.JobSpec{ID: "build", DependsOn: []string{"test"}},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED (error: %s)", run.Status, run.Error)
	}

	// Зависимости терминальны до старта зависимого job'а
	entries := h.Ledger()
	terminalAt := make(map[string]int)
	runningAt := make(map[string]int)
	for i, e := range entries {
		if e.To.IsTerminal() {
			terminalAt[e.JobID] = i
		}
		if e.To == domain.ExecutionRunning {
			runningAt[e.JobID] = i
		}
	}
	if runningAt["test"] < terminalAt["lint"] {
		t.Error("test started before lint finished")
	}
	if runningAt["build"] < terminalAt["test"] {
		t.Error("build started before test finished")
	}
}

func TestLaunch_InvalidGraphRejected(t *testing.T) {
	s := newTestScheduler(t, newFakeRunner())

	_, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "a", DependsOn: []string{"b"}},
		domain.JobSpec{ID: "b", DependsOn: []string{"a"}},
	), pushContext())
	if err == nil {
		t.Fatal("cyclic graph must be rejected without creating a run")
	}
}

func TestLaunch_FailureSkipsDownstream(t *testing.T) {
	f := newFakeRunner()
	f.results["test"] = runner.Result{Status: domain.ExecutionFailed, Detail: "exit code 2"}
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "test"},
		domain.JobSpec{ID: "deploy", DependsOn: []string{"test"}},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}

	deploy, _ := h.Execution("deploy")
	if deploy.Status != domain.ExecutionSkipped {
		t.Errorf("deploy status = %s, want SKIPPED", deploy.Status)
	}
	if f.callCount("deploy") != 0 {
		t.Error("skipped job must never be dispatched")
	}
}

func TestLaunch_ContinueOnError(t *testing.T) {
	f := newFakeRunner()
	f.results["flaky"] = runner.Result{Status: domain.ExecutionFailed, Detail: "known flake"}
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "flaky", ContinueOnError: true},
		domain.JobSpec{ID: "report", DependsOn: []string{"flaky"}, When: domain.WhenAlways},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("run status = %s, want SUCCEEDED with continue_on_error", run.Status)
	}
	report, _ := h.Execution("report")
	if report.Status != domain.ExecutionSucceeded {
		t.Errorf("report status = %s, want SUCCEEDED (when: always)", report.Status)
	}
}

func TestLaunch_WhenOnFailure(t *testing.T) {
	f := newFakeRunner()
	f.results["deploy"] = runner.Result{Status: domain.ExecutionFailed, Detail: "boom"}
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "deploy"},
		domain.JobSpec{ID: "rollback", DependsOn: []string{"deploy"}, When: domain.WhenOnFailure},
		domain.JobSpec{ID: "announce", DependsOn: []string{"deploy"}},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	mustWait(t, h)

	rollback, _ := h.Execution("rollback")
	if rollback.Status != domain.ExecutionSucceeded {
		t.Errorf("rollback status = %s, want SUCCEEDED", rollback.Status)
	}
	announce, _ := h.Execution("announce")
	if announce.Status != domain.ExecutionSkipped {
		t.Errorf("announce status = %s, want SKIPPED", announce.Status)
	}
}

func TestLaunch_BranchAndEventFilters(t *testing.T) {
	f := newFakeRunner()
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "always"},
		domain.JobSpec{ID: "main-only", Branches: []string{"main"}},
		domain.JobSpec{ID: "pr-only", Events: []domain.EventKind{domain.EventPullRequest}},
	), domain.RunContext{Pipeline: "webapp", Branch: "feature/x", Event: domain.EventPush})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("run status = %s, want SUCCEEDED (skips are not failures)", run.Status)
	}

	for _, jobID := range []string{"main-only", "pr-only"} {
		exec, _ := h.Execution(jobID)
		if exec.Status != domain.ExecutionSkipped {
			t.Errorf("%s status = %s, want SKIPPED", jobID, exec.Status)
		}
	}
}

func TestLaunch_ArtifactHandoff(t *testing.T) {
	f := newFakeRunner()
	f.results["build"] = runner.Result{
		Status:    domain.ExecutionSucceeded,
		Artifacts: []runner.ArtifactOutput{{Name: "binary", Ref: "s3://bucket/runs/x/binary", Size: 1024}},
	}
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build", Produces: []string{"binary"}},
		domain.JobSpec{ID: "deploy", DependsOn: []string{"build"}, Consumes: []string{"binary"}},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("run status = %s, want SUCCEEDED (%s)", run.Status, run.Error)
	}

	d := f.dispatches["deploy"]
	if d.Inputs["binary"] != "s3://bucket/runs/x/binary" {
		t.Errorf("deploy inputs = %v, want binary ref", d.Inputs)
	}
	if h.Artifacts()["binary"] == "" {
		t.Error("run artifact table must contain binary")
	}
}

func TestLaunch_MissingDeclaredArtifactFails(t *testing.T) {
	f := newFakeRunner()
	// build успешен, но не публикует заявленный артефакт
	f.results["build"] = runner.Result{Status: domain.ExecutionSucceeded}
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build", Produces: []string{"binary"}},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}
	build, _ := h.Execution("build")
	if build.Status != domain.ExecutionFailed {
		t.Errorf("build status = %s, want FAILED", build.Status)
	}
}

func TestLaunch_ConsumerOfMissingArtifactFails(t *testing.T) {
	f := newFakeRunner()
	// build падает и не публикует binary; publish с when: always всё
	// равно становится READY, но без заявленного входа идти не может
	f.results["build"] = runner.Result{Status: domain.ExecutionFailed, Detail: "compile error"}
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build", Produces: []string{"binary"}, ContinueOnError: true},
		domain.JobSpec{ID: "publish", DependsOn: []string{"build"}, When: domain.WhenAlways, Consumes: []string{"binary"}},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}
	publish, _ := h.Execution("publish")
	if publish.Status != domain.ExecutionFailed {
		t.Errorf("publish status = %s, want FAILED", publish.Status)
	}
	if f.callCount("publish") != 0 {
		t.Error("job with a missing declared input must never be dispatched")
	}
}

func TestLaunch_RunnerUnavailableRetries(t *testing.T) {
	f := newFakeRunner()
	f.unavailable["build"] = 2
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build"},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("run status = %s, want SUCCEEDED after retries", run.Status)
	}
	if got := f.callCount("build"); got != 3 {
		t.Errorf("dispatch attempts = %d, want 3", got)
	}
}

func TestLaunch_RunnerUnavailableExhausted(t *testing.T) {
	f := newFakeRunner()
	f.unavailable["build"] = 100
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build"},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED after exhausted retries", run.Status)
	}
	if got := f.callCount("build"); got != 3 {
		t.Errorf("dispatch attempts = %d, want exactly 3", got)
	}
}

func TestLaunch_ApprovalGate(t *testing.T) {
	f := newFakeRunner()
	s := newTestScheduler(t, f)

	pipeline := testPipeline(
		domain.JobSpec{ID: "deploy", Environment: "production"},
	)
	pipeline.Spec.Environments = map[string]domain.Environment{
		"production": {
			Name:       "production",
			Protection: domain.ProtectionRules{MinApprovals: 2},
		},
	}

	h, err := s.Launch(context.Background(), pipeline, pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	exec := waitExecutionStatus(t, h, "deploy", domain.ExecutionAwaitingApproval)
	if f.callCount("deploy") != 0 {
		t.Fatal("job must not be dispatched before approval")
	}

	if err := h.Approve(exec.ID, "alice"); err != nil {
		t.Fatalf("Approve(alice): %v", err)
	}
	// Первого approval недостаточно
	time.Sleep(20 * time.Millisecond)
	cur, _ := h.Execution("deploy")
	if cur.Status != domain.ExecutionAwaitingApproval {
		t.Fatalf("deploy status after 1 of 2 approvals = %s", cur.Status)
	}

	if err := h.Approve(exec.ID, "bob"); err != nil {
		t.Fatalf("Approve(bob): %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("run status = %s, want SUCCEEDED", run.Status)
	}
}

func TestLaunch_ApprovalRejected(t *testing.T) {
	f := newFakeRunner()
	s := newTestScheduler(t, f)

	pipeline := testPipeline(
		domain.JobSpec{ID: "deploy", Environment: "production"},
	)
	pipeline.Spec.Environments = map[string]domain.Environment{
		"production": {
			Name:       "production",
			Protection: domain.ProtectionRules{MinApprovals: 1},
		},
	}

	h, err := s.Launch(context.Background(), pipeline, pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	exec := waitExecutionStatus(t, h, "deploy", domain.ExecutionAwaitingApproval)
	if err := h.Reject(exec.ID, "carol", "release freeze"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}
	deploy, _ := h.Execution("deploy")
	if deploy.Status != domain.ExecutionFailed {
		t.Errorf("deploy status = %s, want FAILED", deploy.Status)
	}
	if f.callCount("deploy") != 0 {
		t.Error("rejected job must never be dispatched")
	}
}

func TestLaunch_GateBranchNotAllowed(t *testing.T) {
	f := newFakeRunner()
	s := newTestScheduler(t, f)

	pipeline := testPipeline(
		domain.JobSpec{ID: "deploy", Environment: "production"},
	)
	pipeline.Spec.Environments = map[string]domain.Environment{
		"production": {
			Name:       "production",
			Protection: domain.ProtectionRules{MinApprovals: 1, Branches: []string{"main"}},
		},
	}

	h, err := s.Launch(context.Background(), pipeline,
		domain.RunContext{Pipeline: "webapp", Branch: "feature/x", Event: domain.EventPush})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	run := mustWait(t, h)
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}
	if f.callCount("deploy") != 0 {
		t.Error("deploy must not run from a disallowed branch")
	}
}

func TestLaunch_CancelInProgressSupersedes(t *testing.T) {
	f := newFakeRunner()
	blockDeploy := make(chan struct{})
	f.block["deploy"] = blockDeploy
	s := newTestScheduler(t, f)

	spec := func() *domain.Pipeline {
		return testPipeline(
			domain.JobSpec{
				ID: "deploy",
				Concurrency: &domain.ConcurrencySpec{
					Group:            "{{ .Pipeline }}-{{ .Branch }}-staging",
					CancelInProgress: true,
				},
			},
		)
	}

	h1, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-1: %v", err)
	}
	waitExecutionStatus(t, h1, "deploy", domain.ExecutionRunning)

	// Второй run той же группы вытесняет первый
	h2, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-2: %v", err)
	}

	run1 := mustWait(t, h1)
	if run1.Status != domain.RunStatusCancelled {
		t.Errorf("run-1 status = %s, want CANCELLED", run1.Status)
	}
	d1, _ := h1.Execution("deploy")
	if d1.Status != domain.ExecutionCancelled {
		t.Errorf("run-1 deploy status = %s, want CANCELLED", d1.Status)
	}

	close(blockDeploy)

	run2 := mustWait(t, h2)
	if run2.Status != domain.RunStatusSucceeded {
		t.Errorf("run-2 status = %s, want SUCCEEDED (%s)", run2.Status, run2.Error)
	}
}

func TestLaunch_ConcurrencyQueueSerializes(t *testing.T) {
	f := newFakeRunner()
	release := make(chan struct{})
	f.block["deploy"] = release
	s := newTestScheduler(t, f)

	spec := func() *domain.Pipeline {
		return testPipeline(
			domain.JobSpec{
				ID:          "deploy",
				Concurrency: &domain.ConcurrencySpec{Group: "deploy-prod"},
			},
		)
	}

	h1, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-1: %v", err)
	}
	waitExecutionStatus(t, h1, "deploy", domain.ExecutionRunning)

	h2, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-2: %v", err)
	}
	waitExecutionStatus(t, h2, "deploy", domain.ExecutionBlocked)

	close(release)

	if run1 := mustWait(t, h1); run1.Status != domain.RunStatusSucceeded {
		t.Errorf("run-1 status = %s", run1.Status)
	}
	if run2 := mustWait(t, h2); run2.Status != domain.RunStatusSucceeded {
		t.Errorf("run-2 status = %s", run2.Status)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxActive > 1 {
		t.Errorf("max concurrent deploys = %d, want 1 within the group", f.maxActive)
	}
}

func TestAbort_CancelsRunningAndPending(t *testing.T) {
	f := newFakeRunner()
	f.block["build"] = make(chan struct{}) // никогда не закроется
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build"},
		domain.JobSpec{ID: "deploy", DependsOn: []string{"build"}},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	waitExecutionStatus(t, h, "build", domain.ExecutionRunning)
	h.Abort("user requested cancellation")

	run := mustWait(t, h)
	if run.Status != domain.RunStatusCancelled {
		t.Errorf("run status = %s, want CANCELLED", run.Status)
	}

	build, _ := h.Execution("build")
	if build.Status != domain.ExecutionCancelled {
		t.Errorf("build status = %s, want CANCELLED", build.Status)
	}
	deploy, _ := h.Execution("deploy")
	if deploy.Status != domain.ExecutionCancelled && deploy.Status != domain.ExecutionSkipped {
		t.Errorf("deploy status = %s, want CANCELLED or SKIPPED", deploy.Status)
	}
}

func TestLedger_RecordsFullHistory(t *testing.T) {
	f := newFakeRunner()
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build"},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	mustWait(t, h)

	entries := h.Ledger()
	var path []domain.ExecutionStatus
	for _, e := range entries {
		path = append(path, e.To)
	}

	want := []domain.ExecutionStatus{
		domain.ExecutionReady,
		domain.ExecutionRunning,
		domain.ExecutionSucceeded,
	}
	if len(path) != len(want) {
		t.Fatalf("ledger path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("ledger[%d] = %s, want %s", i, path[i], want[i])
		}
	}
}

func TestObserver_ReceivesUpdates(t *testing.T) {
	f := newFakeRunner()

	obs := &recordingObserver{}
	s, err := New(Config{Runner: f, Observer: obs, RetryBase: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build"},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	mustWait(t, h)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.runs) < 2 {
		t.Errorf("observer runs updates = %d, want at least RUNNING and final", len(obs.runs))
	}
	final := obs.runs[len(obs.runs)-1]
	if final.Status != domain.RunStatusSucceeded {
		t.Errorf("final observed status = %s", final.Status)
	}
	if len(obs.execs) != 3 {
		t.Errorf("observer execution updates = %d, want 3", len(obs.execs))
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	runs  []domain.PipelineRun
	execs []domain.JobExecution
}

func (o *recordingObserver) RunUpdated(run domain.PipelineRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, run)
}

func (o *recordingObserver) ExecutionUpdated(exec domain.JobExecution, _ ledger.Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.execs = append(o.execs, exec)
}

func TestLaunch_ConditionExpression(t *testing.T) {
	f := newFakeRunner()
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "deploy", If: `eq .Branch "main"`},
		domain.JobSpec{ID: "preview", If: `ne .Branch "main"`},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	mustWait(t, h)

	deploy, _ := h.Execution("deploy")
	if deploy.Status != domain.ExecutionSucceeded {
		t.Errorf("deploy status = %s, want SUCCEEDED", deploy.Status)
	}
	preview, _ := h.Execution("preview")
	if preview.Status != domain.ExecutionSkipped {
		t.Errorf("preview status = %s, want SKIPPED", preview.Status)
	}
}

func TestLaunch_CancelledDependencyPropagatesSkip(t *testing.T) {
	f := newFakeRunner()
	blockDeploy := make(chan struct{})
	f.block["deploy"] = blockDeploy
	s := newTestScheduler(t, f)

	spec := func() *domain.Pipeline {
		return testPipeline(
			domain.JobSpec{
				ID: "deploy",
				Concurrency: &domain.ConcurrencySpec{
					Group:            "staging",
					CancelInProgress: true,
				},
			},
			domain.JobSpec{ID: "smoke", DependsOn: []string{"deploy"}},
		)
	}

	h1, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-1: %v", err)
	}
	waitExecutionStatus(t, h1, "deploy", domain.ExecutionRunning)

	h2, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-2: %v", err)
	}

	run1 := mustWait(t, h1)
	if run1.Status != domain.RunStatusCancelled {
		t.Errorf("run-1 status = %s, want CANCELLED", run1.Status)
	}
	smoke1, _ := h1.Execution("smoke")
	if smoke1.Status != domain.ExecutionSkipped && smoke1.Status != domain.ExecutionCancelled {
		t.Errorf("run-1 smoke status = %s, want SKIPPED (cancellation is not a failure)", smoke1.Status)
	}

	close(blockDeploy)

	run2 := mustWait(t, h2)
	if run2.Status != domain.RunStatusSucceeded {
		t.Errorf("run-2 status = %s (%s)", run2.Status, run2.Error)
	}
}

// deafRunner не реагирует на отмену контекста: возвращается только
// после закрытия release, как агент, потерявший связь с брокером.
type deafRunner struct {
	release chan struct{}
}

func (r *deafRunner) Run(ctx context.Context, d runner.Dispatch) (runner.Result, error) {
	<-r.release
	return runner.Result{Status: domain.ExecutionSucceeded}, nil
}

func TestAbort_RunnerIgnoresCancellation(t *testing.T) {
	r := &deafRunner{release: make(chan struct{})}
	s := newTestScheduler(t, r)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build"},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitExecutionStatus(t, h, "build", domain.ExecutionRunning)

	h.Abort("operator cancel")

	// Контекст run'а уже отменён, но execution не терминален: цикл
	// планирования обязан спокойно ждать, а не крутиться вхолостую
	time.Sleep(50 * time.Millisecond)
	select {
	case <-h.Done():
		t.Fatal("run finalized while its job is still running")
	default:
	}

	close(r.release)
	run := mustWait(t, h)
	if run.Status != domain.RunStatusCancelled {
		t.Errorf("run status = %s, want CANCELLED", run.Status)
	}
}

func TestLaunch_DoubleRunSupersedesOnlyDeploy(t *testing.T) {
	f := newFakeRunner()
	blockDeploy := make(chan struct{})
	f.block["deploy-staging"] = blockDeploy
	s := newTestScheduler(t, f)

	spec := func() *domain.Pipeline {
		return testPipeline(
			domain.JobSpec{ID: "lint"},
			domain.JobSpec{ID: "scan"},
			domain.JobSpec{ID: "test"},
			domain.JobSpec{
				ID:        "deploy-staging",
				DependsOn: []string{"lint", "scan", "test"},
				Concurrency: &domain.ConcurrencySpec{
					Group:            "{{ .Pipeline }}-{{ .Branch }}-staging",
					CancelInProgress: true,
				},
			},
		)
	}

	h1, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-1: %v", err)
	}
	waitExecutionStatus(t, h1, "deploy-staging", domain.ExecutionRunning)

	h2, err := s.Launch(context.Background(), spec(), pushContext())
	if err != nil {
		t.Fatalf("Launch run-2: %v", err)
	}

	// Первый run вытесняется из группы, но его завершённые jobs
	// остаются SUCCEEDED: отзывается только занятый слот
	run1 := mustWait(t, h1)
	if run1.Status != domain.RunStatusCancelled {
		t.Errorf("run-1 status = %s, want CANCELLED", run1.Status)
	}
	for _, jobID := range []string{"lint", "scan", "test"} {
		exec, _ := h1.Execution(jobID)
		if exec.Status != domain.ExecutionSucceeded {
			t.Errorf("run-1 %s status = %s, want SUCCEEDED", jobID, exec.Status)
		}
	}
	d1, _ := h1.Execution("deploy-staging")
	if d1.Status != domain.ExecutionCancelled {
		t.Errorf("run-1 deploy-staging status = %s, want CANCELLED", d1.Status)
	}

	close(blockDeploy)
	run2 := mustWait(t, h2)
	if run2.Status != domain.RunStatusSucceeded {
		t.Fatalf("run-2 status = %s, want SUCCEEDED (%s)", run2.Status, run2.Error)
	}
	for _, jobID := range []string{"lint", "scan", "test", "deploy-staging"} {
		exec, _ := h2.Execution(jobID)
		if exec.Status != domain.ExecutionSucceeded {
			t.Errorf("run-2 %s status = %s, want SUCCEEDED", jobID, exec.Status)
		}
	}

	// Проверочные стадии каждого run'а выполняются независимо
	for _, jobID := range []string{"lint", "scan", "test"} {
		if got := f.callCount(jobID); got != 2 {
			t.Errorf("%s dispatched %d time(s), want 2", jobID, got)
		}
	}
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	f := newFakeRunner()
	f.block["build"] = make(chan struct{})
	s := newTestScheduler(t, f)

	h, err := s.Launch(context.Background(), testPipeline(
		domain.JobSpec{ID: "build"},
	), pushContext())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want DeadlineExceeded", err)
	}

	h.Abort("test cleanup")
	mustWait(t, h)
}
