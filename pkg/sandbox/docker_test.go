package sandbox

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// fakeDocker simulates the Docker API for executor tests. Each "container"
// runs a scripted behavior on start: emit output frames, then exit (or
// hang forever for timeout scenarios).
type fakeDocker struct {
	mu       sync.Mutex
	script   fakeScript
	created  int
	removed  int
	killed   map[string]bool
	waiters  map[string]chan container.WaitResponse
	attached map[string]net.Conn // server side of the attach pipe
}

type fakeScript struct {
	stdout   string
	stderr   string
	exitCode int
	runFor   time.Duration
	hang     bool
}

func newFakeDocker(script fakeScript) *fakeDocker {
	return &fakeDocker{
		script:   script,
		killed:   make(map[string]bool),
		waiters:  make(map[string]chan container.WaitResponse),
		attached: make(map[string]net.Conn),
	}
}

func (f *fakeDocker) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	id := uuid.New().String()
	f.waiters[id] = make(chan container.WaitResponse, 1)
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) CopyToContainer(context.Context, string, string, io.Reader, container.CopyToContainerOptions) error {
	return nil
}

func (f *fakeDocker) ContainerAttach(_ context.Context, id string, _ container.AttachOptions) (types.HijackedResponse, error) {
	server, client := net.Pipe()
	f.mu.Lock()
	f.attached[id] = server
	f.mu.Unlock()
	go func() {
		// Drain stdin so CloseWrite on the client side does not block.
		_, _ = io.Copy(io.Discard, server)
	}()
	return types.NewHijackedResponse(client, ""), nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	script := f.script
	server := f.attached[id]
	waiter := f.waiters[id]
	f.mu.Unlock()

	go func() {
		if script.runFor > 0 {
			time.Sleep(script.runFor)
		}
		if server != nil {
			if script.stdout != "" {
				_, _ = stdcopy.NewStdWriter(server, stdcopy.Stdout).Write([]byte(script.stdout))
			}
			if script.stderr != "" {
				_, _ = stdcopy.NewStdWriter(server, stdcopy.Stderr).Write([]byte(script.stderr))
			}
		}
		if !script.hang {
			waiter <- container.WaitResponse{StatusCode: int64(script.exitCode)}
			if server != nil {
				_ = server.Close()
			}
		}
	}()
	return nil
}

func (f *fakeDocker) ContainerWait(_ context.Context, id string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiters[id], make(chan error, 1)
}

func (f *fakeDocker) ContainerKill(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed[id] = true
	if server, ok := f.attached[id]; ok {
		_ = server.Close()
	}
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeDocker) ContainerStatsOneShot(context.Context, string) (container.StatsResponseReader, error) {
	return container.StatsResponseReader{
		Body: io.NopCloser(strings.NewReader(`{"memory_stats":{"max_usage":1048576}}`)),
	}, nil
}

func testSandboxConfig() config.SandboxConfig {
	return config.SandboxConfig{
		MaxPerLanguage:  5,
		WarmPerLanguage: 0,
		IdleTimeout:     5 * time.Minute,
		SweepInterval:   time.Minute,
	}
}

func TestExecuteSuccess(t *testing.T) {
	fake := newFakeDocker(fakeScript{stdout: "42\n", exitCode: 0})
	exec := newDockerExecutor(context.Background(), fake, testSandboxConfig())

	res, err := exec.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguagePython,
		Code:      "print(42)",
		TimeoutMs: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, "42\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, int64(1048576), res.MemoryBytes)
}

func TestExecuteNonZeroExit(t *testing.T) {
	fake := newFakeDocker(fakeScript{stderr: "boom", exitCode: 3})
	exec := newDockerExecutor(context.Background(), fake, testSandboxConfig())

	res, err := exec.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguageJavaScript,
		Code:      "process.exit(3)",
		TimeoutMs: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom", res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestExecuteTimeout(t *testing.T) {
	fake := newFakeDocker(fakeScript{hang: true})
	exec := newDockerExecutor(context.Background(), fake, testSandboxConfig())

	start := time.Now()
	res, err := exec.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguageJavaScript,
		Code:      "while(true){}",
		TimeoutMs: 500,
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, timeoutExitCode, res.ExitCode)
	assert.Equal(t, "Execution timed out", res.Stderr)
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, int64(500))
	assert.Less(t, elapsed, 2*time.Second, "timeout must bound wall time")

	// The sandbox was hard-killed and destroyed; the pool is not leaked.
	fake.mu.Lock()
	assert.NotEmpty(t, fake.killed)
	assert.Equal(t, 1, fake.removed)
	fake.mu.Unlock()
	assert.Equal(t, 0, exec.pool.size(models.LanguageJavaScript))
}

func TestExecuteAlwaysDestroysSandbox(t *testing.T) {
	fake := newFakeDocker(fakeScript{exitCode: 0})
	exec := newDockerExecutor(context.Background(), fake, testSandboxConfig())

	for i := 0; i < 3; i++ {
		_, err := exec.Execute(context.Background(), models.ExecutionRequest{
			Language:  models.LanguagePython,
			Code:      "print()",
			TimeoutMs: 1000,
		})
		require.NoError(t, err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, fake.created, fake.removed, "every created sandbox must be destroyed")
}

func TestValidateRequestBounds(t *testing.T) {
	valid := func(ms int) error {
		req := models.ExecutionRequest{Language: models.LanguagePython, Code: "x", TimeoutMs: ms}
		return ValidateRequest(&req)
	}
	assert.NoError(t, valid(models.MinExecutionTimeoutMs))
	assert.NoError(t, valid(models.MaxExecutionTimeoutMs))
	assert.Error(t, valid(models.MinExecutionTimeoutMs-1))
	assert.Error(t, valid(models.MaxExecutionTimeoutMs+1))

	req := models.ExecutionRequest{Language: models.LanguagePython, Code: "x"}
	require.NoError(t, ValidateRequest(&req))
	assert.Equal(t, models.DefaultExecutionTimeoutMs, req.TimeoutMs)

	req = models.ExecutionRequest{Language: "cobol", Code: "x", TimeoutMs: 1000}
	assert.Error(t, ValidateRequest(&req))

	req = models.ExecutionRequest{Language: models.LanguagePython, TimeoutMs: 1000}
	assert.Error(t, ValidateRequest(&req), "empty code is rejected")
}

func TestPoolWarmUpAndSweep(t *testing.T) {
	fake := newFakeDocker(fakeScript{exitCode: 0})
	cfg := testSandboxConfig()
	cfg.WarmPerLanguage = 2
	cfg.IdleTimeout = time.Millisecond

	p := newPool(fake, cfg)
	p.warmUp(context.Background())

	langs := len(languageSpecs)
	fake.mu.Lock()
	assert.Equal(t, 2*langs, fake.created)
	fake.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	p.sweep()

	fake.mu.Lock()
	assert.Equal(t, 2*langs, fake.removed, "idle sandboxes past the timeout are destroyed")
	fake.mu.Unlock()
	for lang := range languageSpecs {
		assert.Equal(t, 0, p.size(lang))
	}
}

func TestTrimOutput(t *testing.T) {
	small := "hello"
	assert.Equal(t, small, trimOutput(small))

	big := make([]byte, maxOutputBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	trimmed := trimOutput(string(big))
	assert.Less(t, len(trimmed), len(big))
	assert.Contains(t, trimmed, "[output truncated]")
}
