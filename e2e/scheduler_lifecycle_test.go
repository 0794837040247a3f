//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/netresearch/fleetagent/core"
	"github.com/netresearch/fleetagent/core/adapters/mock"
	"github.com/netresearch/fleetagent/core/domain"
	"github.com/sirupsen/logrus"
)

// mockDockerProviderForE2E implements core.DockerProvider for E2E tests
type mockDockerProviderForE2E struct {
	containers map[string]*domain.Container
}

func newMockDockerProviderForE2E() *mockDockerProviderForE2E {
	return &mockDockerProviderForE2E{
		containers: make(map[string]*domain.Container),
	}
}

func (m *mockDockerProviderForE2E) CreateContainer(ctx context.Context, config *domain.ContainerConfig, name string) (string, error) {
	containerID := "container-" + name
	m.containers[containerID] = &domain.Container{
		ID:     containerID,
		Name:   name,
		Config: config,
		State:  domain.ContainerState{Running: false},
	}
	return containerID, nil
}

func (m *mockDockerProviderForE2E) StartContainer(ctx context.Context, containerID string) error {
	if c, ok := m.containers[containerID]; ok {
		c.State.Running = true
	}
	return nil
}

func (m *mockDockerProviderForE2E) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	if c, ok := m.containers[containerID]; ok {
		c.State.Running = false
	}
	return nil
}

func (m *mockDockerProviderForE2E) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	delete(m.containers, containerID)
	return nil
}

func (m *mockDockerProviderForE2E) InspectContainer(ctx context.Context, containerID string) (*domain.Container, error) {
	if c, ok := m.containers[containerID]; ok {
		return c, nil
	}
	return &domain.Container{ID: containerID, State: domain.ContainerState{Running: true}}, nil
}

func (m *mockDockerProviderForE2E) ListContainers(ctx context.Context, opts domain.ListOptions) ([]domain.Container, error) {
	result := make([]domain.Container, 0, len(m.containers))
	for _, c := range m.containers {
		result = append(result, *c)
	}
	return result, nil
}

func (m *mockDockerProviderForE2E) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	return 0, nil
}

func (m *mockDockerProviderForE2E) GetContainerLogs(ctx context.Context, containerID string, opts core.ContainerLogsOptions) (io.ReadCloser, error) {
	return nil, nil
}

func (m *mockDockerProviderForE2E) CreateExec(ctx context.Context, containerID string, config *domain.ExecConfig) (string, error) {
	return "exec-id", nil
}

func (m *mockDockerProviderForE2E) StartExec(ctx context.Context, execID string, opts domain.ExecStartOptions) (*domain.HijackedResponse, error) {
	return nil, nil
}

func (m *mockDockerProviderForE2E) InspectExec(ctx context.Context, execID string) (*domain.ExecInspect, error) {
	return &domain.ExecInspect{ExitCode: 0, Running: false}, nil
}

func (m *mockDockerProviderForE2E) RunExec(ctx context.Context, containerID string, config *domain.ExecConfig, stdout, stderr io.Writer) (int, error) {
	return 0, nil
}

func (m *mockDockerProviderForE2E) PullImage(ctx context.Context, image string) error {
	return nil
}

func (m *mockDockerProviderForE2E) HasImageLocally(ctx context.Context, image string) (bool, error) {
	return true, nil
}

func (m *mockDockerProviderForE2E) EnsureImage(ctx context.Context, image string, forcePull bool) error {
	return nil
}

func (m *mockDockerProviderForE2E) ConnectNetwork(ctx context.Context, networkID, containerID string) error {
	return nil
}

func (m *mockDockerProviderForE2E) FindNetworkByName(ctx context.Context, networkName string) ([]domain.Network, error) {
	return nil, nil
}

func (m *mockDockerProviderForE2E) SubscribeEvents(ctx context.Context, filter domain.EventFilter) (<-chan domain.Event, <-chan error) {
	eventCh := make(chan domain.Event)
	errCh := make(chan error)
	return eventCh, errCh
}

func (m *mockDockerProviderForE2E) CreateService(ctx context.Context, spec domain.ServiceSpec, opts domain.ServiceCreateOptions) (string, error) {
	return "service-id", nil
}

func (m *mockDockerProviderForE2E) InspectService(ctx context.Context, serviceID string) (*domain.Service, error) {
	return nil, nil
}

func (m *mockDockerProviderForE2E) ListTasks(ctx context.Context, opts domain.TaskListOptions) ([]domain.Task, error) {
	return nil, nil
}

func (m *mockDockerProviderForE2E) RemoveService(ctx context.Context, serviceID string) error {
	return nil
}

func (m *mockDockerProviderForE2E) WaitForServiceTasks(ctx context.Context, serviceID string, timeout time.Duration) ([]domain.Task, error) {
	return nil, nil
}

func (m *mockDockerProviderForE2E) Info(ctx context.Context) (*domain.SystemInfo, error) {
	return &domain.SystemInfo{}, nil
}

func (m *mockDockerProviderForE2E) Ping(ctx context.Context) error {
	return nil
}

func (m *mockDockerProviderForE2E) Close() error {
	return nil
}

// TestScheduler_BasicLifecycle tests the complete scheduler lifecycle:
// 1. Start scheduler with config
// 2. Verify jobs are scheduled
// 3. Wait for job execution
// 4. Verify job ran successfully
// 5. Stop scheduler gracefully
func TestScheduler_BasicLifecycle(t *testing.T) {
	// Create mock Docker provider
	mockClient := mock.NewDockerClient()
	provider := &core.SDKDockerProvider{}
	// Use reflection or test helper to inject mock client
	// For now, use the E2E mock provider
	e2eProvider := newMockDockerProviderForE2E()

	// Create test container
	containerID, err := e2eProvider.CreateContainer(context.Background(), &domain.ContainerConfig{
		Image: "alpine:latest",
		Cmd:   []string{"sleep", "300"},
	}, "ofelia-e2e-test-container")
	if err != nil {
		t.Fatalf("Failed to create test container: %v", err)
	}
	defer e2eProvider.RemoveContainer(context.Background(), containerID, true)

	// Start the container
	err = e2eProvider.StartContainer(context.Background(), containerID)
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}

	// Create scheduler with logger
	logger := &core.LogrusAdapter{Logger: logrus.New()}
	scheduler := core.NewScheduler(logger)

	// Create mock exec service
	exec := mockClient.Exec().(*mock.ExecService)
	exec.OnRun = func(ctx context.Context, cID string, config *domain.ExecConfig, stdout, stderr io.Writer) (int, error) {
		return 0, nil
	}

	// Create and add job using mock provider
	job := &core.ExecJob{
		BareJob: core.BareJob{
			Name:     "test-exec-job",
			Schedule: "@every 2s",
			Command:  "echo E2E test executed",
		},
		Container: containerID,
	}
	job.Provider = e2eProvider
	job.InitializeRuntimeFields()

	if err := scheduler.AddJob(job); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}

	// Start scheduler in background
	errChan := make(chan error, 1)
	go func() {
		errChan <- scheduler.Start()
	}()

	// Give scheduler time to start and execute job at least once
	time.Sleep(5 * time.Second)

	// Stop scheduler
	scheduler.Stop()

	// Wait for scheduler to finish
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Scheduler returned error: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Error("Scheduler did not stop within timeout")
	}

	// Verify job executed by checking history
	jobs := scheduler.Jobs
	if len(jobs) == 0 {
		t.Fatal("No jobs found in scheduler")
	}

	executedJob := jobs[0]
	history := executedJob.GetHistory()
	if len(history) == 0 {
		t.Error("Job did not execute (no history entries)")
	} else {
		t.Logf("Job executed %d time(s)", len(history))
		lastExec := history[len(history)-1]
		if lastExec.Failed {
			t.Errorf("Last execution failed with error: %v", lastExec.Error)
		}
	}

	_ = provider // Silence unused variable warning
}

// TestScheduler_MultipleJobsConcurrent tests concurrent execution of multiple jobs
func TestScheduler_MultipleJobsConcurrent(t *testing.T) {
	e2eProvider := newMockDockerProviderForE2E()

	// Create test container
	containerID, err := e2eProvider.CreateContainer(context.Background(), &domain.ContainerConfig{
		Image: "alpine:latest",
		Cmd:   []string{"sleep", "300"},
	}, "ofelia-e2e-multi-test")
	if err != nil {
		t.Fatalf("Failed to create test container: %v", err)
	}
	defer e2eProvider.RemoveContainer(context.Background(), containerID, true)

	err = e2eProvider.StartContainer(context.Background(), containerID)
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}

	// Create scheduler with logger
	logger := &core.LogrusAdapter{Logger: logrus.New()}
	scheduler := core.NewScheduler(logger)

	jobs := []*core.ExecJob{
		{
			BareJob: core.BareJob{
				Name:          "job-1",
				Schedule:      "@every 1s",
				Command:       "echo job1",
				AllowParallel: true,
			},
			Container: containerID,
		},
		{
			BareJob: core.BareJob{
				Name:          "job-2",
				Schedule:      "@every 1s",
				Command:       "echo job2",
				AllowParallel: true,
			},
			Container: containerID,
		},
		{
			BareJob: core.BareJob{
				Name:          "job-3",
				Schedule:      "@every 1s",
				Command:       "echo job3",
				AllowParallel: true,
			},
			Container: containerID,
		},
	}

	for _, job := range jobs {
		job.Provider = e2eProvider
		job.InitializeRuntimeFields()
		if err := scheduler.AddJob(job); err != nil {
			t.Fatalf("Failed to add job: %v", err)
		}
	}

	// Start scheduler
	errChan := make(chan error, 1)
	go func() {
		errChan <- scheduler.Start()
	}()

	// Let jobs run
	time.Sleep(5 * time.Second)

	// Stop scheduler
	scheduler.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Scheduler returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Error("Scheduler did not stop within timeout")
	}

	// Verify all jobs executed
	schedulerJobs := scheduler.Jobs
	if len(schedulerJobs) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(schedulerJobs))
	}

	for _, job := range schedulerJobs {
		history := job.GetHistory()
		if len(history) == 0 {
			t.Errorf("Job %s did not execute", job.GetName())
		} else {
			t.Logf("Job %s executed %d time(s)", job.GetName(), len(history))
		}
	}
}

// TestScheduler_JobFailureHandling tests how scheduler handles job failures
func TestScheduler_JobFailureHandling(t *testing.T) {
	e2eProvider := newMockDockerProviderForE2E()

	containerID, err := e2eProvider.CreateContainer(context.Background(), &domain.ContainerConfig{
		Image: "alpine:latest",
		Cmd:   []string{"sleep", "300"},
	}, "ofelia-e2e-failure-test")
	if err != nil {
		t.Fatalf("Failed to create test container: %v", err)
	}
	defer e2eProvider.RemoveContainer(context.Background(), containerID, true)

	err = e2eProvider.StartContainer(context.Background(), containerID)
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}

	// Create scheduler with logger
	logger := &core.LogrusAdapter{Logger: logrus.New()}
	scheduler := core.NewScheduler(logger)

	// Create a failing provider that returns errors
	failingProvider := &failingDockerProvider{mockDockerProviderForE2E: e2eProvider}

	failingJob := &core.ExecJob{
		BareJob: core.BareJob{
			Name:     "failing-job",
			Schedule: "@every 2s",
			Command:  "false", // Would fail
		},
		Container: containerID,
	}
	failingJob.Provider = failingProvider
	failingJob.InitializeRuntimeFields()

	if err := scheduler.AddJob(failingJob); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}

	// Start scheduler
	errChan := make(chan error, 1)
	go func() {
		errChan <- scheduler.Start()
	}()

	// Let job fail a few times
	time.Sleep(5 * time.Second)

	// Stop scheduler
	scheduler.Stop()

	select {
	case <-errChan:
		// Scheduler should not crash even with failing jobs
	case <-time.After(10 * time.Second):
		t.Error("Scheduler did not stop within timeout")
	}

	// Verify job executed but failed
	schedulerJobs := scheduler.Jobs
	if len(schedulerJobs) == 0 {
		t.Fatal("No jobs found in scheduler")
	}

	failedJob := schedulerJobs[0]
	history := failedJob.GetHistory()
	if len(history) == 0 {
		t.Error("Failing job did not execute")
	} else {
		lastExec := history[len(history)-1]
		if !lastExec.Failed {
			t.Log("Note: Job may not have failed due to mock implementation")
		}
		t.Logf("Job executed %d time(s)", len(history))
	}
}

// failingDockerProvider wraps the mock provider and returns errors for exec operations
type failingDockerProvider struct {
	*mockDockerProviderForE2E
}

func (f *failingDockerProvider) RunExec(ctx context.Context, containerID string, config *domain.ExecConfig, stdout, stderr io.Writer) (int, error) {
	return 1, errors.New("command failed")
}
