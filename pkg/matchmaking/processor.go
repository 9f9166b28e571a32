package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// ChallengeAllocator picks a random challenge for a difficulty filter.
// Satisfied by *services.ChallengeService.
type ChallengeAllocator interface {
	RandomByDifficulty(ctx context.Context, difficulty models.Difficulty) (*models.Challenge, error)
}

// LobbyCreator creates the persistent match row plus ephemeral state in
// lobby status. Satisfied by the match state machine.
type LobbyCreator interface {
	CreateLobby(ctx context.Context, challenge *models.Challenge, player1ID, player2ID string) (*models.MatchState, error)
}

// Notifier delivers the match-found event to a queued player. Satisfied by
// the realtime hub.
type Notifier interface {
	NotifyMatchFound(userID string, match *models.MatchState, challenge *models.Challenge, opponentID string)
}

// Processor is the pairing loop: every interval it scans each partition in
// FIFO order and emits the first pair within the rating window.
type Processor struct {
	queue      *Queue
	challenges ChallengeAllocator
	lobbies    LobbyCreator
	notifier   Notifier
	cfg        config.MatchmakingConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessor creates a pairing processor.
func NewProcessor(q *Queue, challenges ChallengeAllocator, lobbies LobbyCreator, notifier Notifier, cfg config.MatchmakingConfig) *Processor {
	return &Processor{
		queue:      q,
		challenges: challenges,
		lobbies:    lobbies,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// Start launches the pairing loop.
func (p *Processor) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.run(ctx)
	slog.Info("Matchmaking processor started",
		"interval", p.cfg.PairingInterval,
		"rating_range", p.cfg.RatingRange)
}

// Stop halts the pairing loop and waits for it to finish.
func (p *Processor) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	slog.Info("Matchmaking processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PairingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce scans every partition a single time. Errors are logged and the
// loop continues; a pairing failure never crashes the process.
func (p *Processor) RunOnce(ctx context.Context) {
	for _, partition := range AllPartitions() {
		if err := p.pairPartition(ctx, partition); err != nil {
			slog.Error("Pairing iteration failed",
				"partition", partition.key(), "error", err)
		}
	}
}

// pairPartition emits at most one pair per scan: the earliest-enqueued
// pair whose rating difference is within the window.
func (p *Processor) pairPartition(ctx context.Context, partition Partition) error {
	entries, err := p.queue.Entries(ctx, partition)
	if err != nil {
		return err
	}
	if len(entries) < 2 {
		return nil
	}

	a, b, found := findPair(entries, p.cfg.RatingRange)
	if !found {
		return nil
	}
	return p.createMatch(ctx, partition, a, b)
}

// findPair scans pairs (i, j>i) in FIFO order and returns the first whose
// rating difference is within the window. The earliest-enqueued candidate
// is always preferred.
func findPair(entries []Entry, ratingRange int) (Entry, Entry, bool) {
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			diff := entries[i].Rating - entries[j].Rating
			if diff < 0 {
				diff = -diff
			}
			if diff <= ratingRange {
				return entries[i], entries[j], true
			}
		}
	}
	return Entry{}, Entry{}, false
}

// createMatch allocates a challenge, creates the lobby, removes both
// entries, and notifies the players. Failures before queue removal leave
// the pair queued and must not leak match rows, so the lobby is created
// only after the challenge allocation succeeded.
func (p *Processor) createMatch(ctx context.Context, partition Partition, a, b Entry) error {
	challenge, err := p.challenges.RandomByDifficulty(ctx, partition.Difficulty)
	if err != nil {
		return fmt.Errorf("allocating challenge: %w", err)
	}

	state, err := p.lobbies.CreateLobby(ctx, challenge, a.UserID, b.UserID)
	if err != nil {
		return fmt.Errorf("creating lobby: %w", err)
	}

	if err := p.queue.removePair(ctx, partition, a, b); err != nil {
		return fmt.Errorf("removing paired entries: %w", err)
	}

	slog.Info("Match paired",
		"match_id", state.ID,
		"partition", partition.key(),
		"player1", a.UserID,
		"player2", b.UserID,
		"rating_diff", abs(a.Rating-b.Rating))

	if p.notifier != nil {
		p.notifier.NotifyMatchFound(a.UserID, state, challenge, b.UserID)
		p.notifier.NotifyMatchFound(b.UserID, state, challenge, a.UserID)
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
