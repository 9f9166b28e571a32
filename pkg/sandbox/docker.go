package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// Security envelope applied to every sandbox.
const (
	memoryLimitBytes = 512 * units.MiB
	nanoCPUs         = 1_000_000_000 // one core
	pidsLimit        = int64(50)
)

// Exit code reported for wall-clock timeouts.
const timeoutExitCode = 124

// maxOutputBytes bounds captured stdout/stderr per stream.
const maxOutputBytes = 64 * 1024

// teardownGrace bounds output collection after the process exits.
const teardownGrace = 2 * time.Second

// dockerAPI is the subset of the Docker client used by the executor.
// Narrowed for substitution in tests.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
}

// DockerExecutor runs code in pooled, resource-limited containers.
type DockerExecutor struct {
	cli  dockerAPI
	pool *pool
}

// NewDockerExecutor connects to the Docker daemon and warms the pool.
func NewDockerExecutor(ctx context.Context, cfg config.SandboxConfig) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newDockerExecutor(ctx, cli, cfg), nil
}

func newDockerExecutor(ctx context.Context, cli dockerAPI, cfg config.SandboxConfig) *DockerExecutor {
	e := &DockerExecutor{
		cli:  cli,
		pool: newPool(cli, cfg),
	}
	e.pool.warmUp(ctx)
	return e
}

// Start launches the pool hygiene sweeper.
func (e *DockerExecutor) Start(ctx context.Context) { e.pool.startSweeper(ctx) }

// Stop halts the sweeper and destroys all pooled sandboxes.
func (e *DockerExecutor) Stop() { e.pool.stop() }

// Execute runs one request to completion or timeout. The sandbox is always
// destroyed afterwards; cleanup failures are logged, never surfaced.
func (e *DockerExecutor) Execute(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error) {
	if err := ValidateRequest(&req); err != nil {
		return nil, err
	}
	spec := languageSpecs[req.Language]

	sb, err := e.pool.acquire(ctx, req.Language)
	if err != nil {
		return nil, fmt.Errorf("acquiring sandbox: %w", err)
	}
	defer e.pool.destroy(sb)

	archive, err := buildArchive(spec.CodeFile, req.Code, req.TestInput)
	if err != nil {
		return internalError(err), nil
	}
	if err := e.cli.CopyToContainer(ctx, sb.id, scratchDir, archive, container.CopyToContainerOptions{}); err != nil {
		return internalError(err), nil
	}

	attach, err := e.cli.ContainerAttach(ctx, sb.id, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return internalError(err), nil
	}
	defer attach.Close()

	waitCh, waitErrCh := e.cli.ContainerWait(ctx, sb.id, container.WaitConditionNotRunning)

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, sb.id, container.StartOptions{}); err != nil {
		return internalError(err), nil
	}

	// Pipe stdin and signal EOF.
	go func() {
		if req.TestInput != "" {
			_, _ = io.WriteString(attach.Conn, req.TestInput)
		}
		_ = attach.CloseWrite()
	}()

	// Demultiplex the attached stream: each frame is 1 byte stream id,
	// 3 reserved bytes, 4-byte big-endian length, payload.
	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	timer := time.NewTimer(time.Duration(req.TimeoutMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case waitResp := <-waitCh:
		elapsed := time.Since(start)
		select {
		case <-copyDone:
		case <-time.After(teardownGrace):
		}
		if waitResp.Error != nil {
			return internalError(fmt.Errorf("container wait: %s", waitResp.Error.Message)), nil
		}
		return &models.ExecutionResult{
			Stdout:          trimOutput(stdout.String()),
			Stderr:          trimOutput(stderr.String()),
			ExitCode:        int(waitResp.StatusCode),
			ExecutionTimeMs: elapsed.Milliseconds(),
			MemoryBytes:     e.memoryPeak(ctx, sb.id),
			TimedOut:        false,
		}, nil

	case err := <-waitErrCh:
		return internalError(err), nil

	case <-timer.C:
		elapsed := time.Since(start)
		if killErr := e.cli.ContainerKill(context.WithoutCancel(ctx), sb.id, "KILL"); killErr != nil {
			slog.Warn("Failed to kill timed-out sandbox", "container_id", sb.id, "error", killErr)
		}
		return &models.ExecutionResult{
			Stderr:          "Execution timed out",
			ExitCode:        timeoutExitCode,
			ExecutionTimeMs: elapsed.Milliseconds(),
			TimedOut:        true,
		}, nil

	case <-ctx.Done():
		_ = e.cli.ContainerKill(context.WithoutCancel(ctx), sb.id, "KILL")
		return nil, ctx.Err()
	}
}

// memoryPeak reads the container's peak memory usage, best-effort.
func (e *DockerExecutor) memoryPeak(ctx context.Context, containerID string) int64 {
	reader, err := e.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0
	}
	defer reader.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
		return 0
	}
	if stats.MemoryStats.MaxUsage > 0 {
		return int64(stats.MemoryStats.MaxUsage)
	}
	return int64(stats.MemoryStats.Usage)
}

// buildArchive packs the code file and optional input file into a tar
// stream for injection into the scratch directory.
func buildArchive(codeFile, code, input string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	files := []struct {
		name, content string
	}{{codeFile, code}}
	if input != "" {
		files = append(files, struct{ name, content string }{inputFile, input})
	}

	for _, f := range files {
		hdr := &tar.Header{
			Name: f.name,
			Mode: 0o644,
			Size: int64(len(f.content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing tar header: %w", err)
		}
		if _, err := tw.Write([]byte(f.content)); err != nil {
			return nil, fmt.Errorf("writing tar content: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}
	return &buf, nil
}

func internalError(err error) *models.ExecutionResult {
	return &models.ExecutionResult{
		Stderr:   err.Error(),
		ExitCode: 1,
	}
}

func trimOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return strings.ToValidUTF8(s[:maxOutputBytes], "") + "\n... [output truncated]"
}
