package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/config"
)

// Sandbox is one created container, either idle in the pool or in use.
type Sandbox struct {
	id       string
	language string
	created  time.Time
	idleAt   time.Time
}

// pool keeps a per-language stock of pre-created containers. Every live
// container — idle or in use — holds one semaphore token, so the total per
// language never exceeds MaxPerLanguage. An in-use sandbox is never
// returned to the pool: executions destroy it, releasing the token.
type pool struct {
	cli dockerAPI
	cfg config.SandboxConfig

	mu   sync.Mutex
	idle map[string][]*Sandbox
	sem  map[string]chan struct{}

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

func newPool(cli dockerAPI, cfg config.SandboxConfig) *pool {
	p := &pool{
		cli:  cli,
		cfg:  cfg,
		idle: make(map[string][]*Sandbox),
		sem:  make(map[string]chan struct{}),
	}
	for lang := range languageSpecs {
		p.sem[lang] = make(chan struct{}, cfg.MaxPerLanguage)
	}
	return p
}

// warmUp pre-creates containers so first executions skip creation latency.
func (p *pool) warmUp(ctx context.Context) {
	for lang := range languageSpecs {
		for i := 0; i < p.cfg.WarmPerLanguage && i < p.cfg.MaxPerLanguage; i++ {
			sb, err := p.createLocked(ctx, lang)
			if err != nil {
				slog.Warn("Sandbox warm-up failed", "language", lang, "error", err)
				break
			}
			p.mu.Lock()
			p.idle[lang] = append(p.idle[lang], sb)
			p.mu.Unlock()
		}
	}
}

// acquire returns an idle sandbox for the language or creates one, waiting
// for capacity when the per-language limit is reached.
func (p *pool) acquire(ctx context.Context, language string) (*Sandbox, error) {
	p.mu.Lock()
	if stack := p.idle[language]; len(stack) > 0 {
		sb := stack[len(stack)-1]
		p.idle[language] = stack[:len(stack)-1]
		p.mu.Unlock()
		return sb, nil
	}
	p.mu.Unlock()

	return p.createLocked(ctx, language)
}

// createLocked acquires a capacity token and creates a fresh container.
func (p *pool) createLocked(ctx context.Context, language string) (*Sandbox, error) {
	sem, ok := p.sem[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language %q", language)
	}
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sb, err := p.create(ctx, language)
	if err != nil {
		<-sem
		return nil, err
	}
	return sb, nil
}

func (p *pool) create(ctx context.Context, language string) (*Sandbox, error) {
	spec := languageSpecs[language]

	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      scratchDir,
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
		Env: []string{
			"GOTMPDIR=/var/tmp",
			"GOCACHE=/var/tmp/gocache",
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/var/tmp": "rw,exec,size=128m",
		},
		Resources: container.Resources{
			Memory:     memoryLimitBytes,
			MemorySwap: memoryLimitBytes, // equal to Memory: no additional swap
			NanoCPUs:   nanoCPUs,
			PidsLimit:  ptr(pidsLimit),
		},
	}

	name := fmt.Sprintf("codeclash-%s-%s", language, uuid.New().String()[:8])
	resp, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	now := time.Now()
	return &Sandbox{id: resp.ID, language: language, created: now, idleAt: now}, nil
}

// destroy removes the container and releases its capacity token.
// Best-effort: removal failures are logged, never surfaced.
func (p *pool) destroy(sb *Sandbox) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.cli.ContainerRemove(ctx, sb.id, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove sandbox container", "container_id", sb.id, "error", err)
	}
	<-p.sem[sb.language]
}

// startSweeper launches the hygiene loop destroying long-idle sandboxes.
func (p *pool) startSweeper(ctx context.Context) {
	if p.sweepCancel != nil {
		return
	}
	ctx, p.sweepCancel = context.WithCancel(ctx)
	p.sweepDone = make(chan struct{})

	go func() {
		defer close(p.sweepDone)
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()
}

// sweep destroys pooled sandboxes idle beyond the configured timeout.
func (p *pool) sweep() {
	var victims []*Sandbox
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	for lang, stack := range p.idle {
		kept := stack[:0]
		for _, sb := range stack {
			if sb.idleAt.Before(cutoff) {
				victims = append(victims, sb)
			} else {
				kept = append(kept, sb)
			}
		}
		p.idle[lang] = kept
	}
	p.mu.Unlock()

	for _, sb := range victims {
		slog.Info("Destroying idle sandbox", "container_id", sb.id, "language", sb.language)
		p.destroy(sb)
	}
}

// stop halts the sweeper and destroys every idle sandbox.
func (p *pool) stop() {
	if p.sweepCancel != nil {
		p.sweepCancel()
		<-p.sweepDone
	}
	p.mu.Lock()
	var all []*Sandbox
	for lang, stack := range p.idle {
		all = append(all, stack...)
		p.idle[lang] = nil
	}
	p.mu.Unlock()
	for _, sb := range all {
		p.destroy(sb)
	}
}

// size reports live containers for a language (idle + in use).
func (p *pool) size(language string) int {
	return len(p.sem[language])
}

func ptr[T any](v T) *T { return &v }
