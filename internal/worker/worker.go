package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/blindtest-party/backend/internal/export"
	"github.com/blindtest-party/backend/internal/game"
	"github.com/blindtest-party/backend/internal/proxy"
	"github.com/blindtest-party/backend/internal/sessions"
	"github.com/blindtest-party/backend/pkg/queue"
	"github.com/blindtest-party/backend/pkg/storage"
)

// EndpointGameEnded is the automation endpoint receiving game summaries.
const EndpointGameEnded = "game-ended"

// SessionLoader reads archived sessions.
type SessionLoader interface {
	Load(ctx context.Context, code string) (game.Snapshot, error)
}

// ResultsUploader stores results workbooks.
type ResultsUploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// Forwarder delivers bodies to the automation backend.
type Forwarder interface {
	Enabled() bool
	Forward(ctx context.Context, endpoint string, body []byte) (proxy.Result, error)
}

// JobQueue is the subset of *queue.Queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// Processor runs automation jobs: game_ended archiving and deferred webhook calls.
type Processor struct {
	sessions   SessionLoader
	uploader   ResultsUploader
	automation Forwarder
	queue      JobQueue
	logger     *zap.Logger

	pollTimeout time.Duration
	backoff     time.Duration
}

// NewProcessor creates a job processor. uploader may be nil when no bucket
// is configured; results are then only forwarded.
func NewProcessor(loader SessionLoader, uploader ResultsUploader, automation Forwarder, q JobQueue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		sessions:    loader,
		uploader:    uploader,
		automation:  automation,
		queue:       q,
		logger:      logger,
		pollTimeout: 5 * time.Second,
		backoff:     queue.RetryBackoff,
	}
}

// GameSummary is the body sent to the game-ended endpoint.
type GameSummary struct {
	SessionCode string                  `json:"sessionCode"`
	Mode        game.Mode               `json:"mode"`
	EndedAt     time.Time               `json:"endedAt"`
	Tracks      int                     `json:"tracks"`
	Players     int                     `json:"players"`
	Scores      game.Scores             `json:"scores"`
	Winner      string                  `json:"winner,omitempty"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard,omitempty"`
	ResultsURL  string                  `json:"resultsUrl,omitempty"`
}

// Summarize builds the summary of an ended session.
func Summarize(snap game.Snapshot, endedAt time.Time) GameSummary {
	s := GameSummary{
		SessionCode: snap.Code,
		Mode:        snap.Mode,
		EndedAt:     endedAt,
		Tracks:      len(snap.Tracks),
		Players:     len(snap.Players),
		Scores:      snap.Scores,
		Leaderboard: snap.Leaderboard,
	}
	switch {
	case snap.Mode == game.ModeQuiz && len(snap.Leaderboard) > 0:
		s.Winner = snap.Leaderboard[0].Name
	case snap.Mode == game.ModeQuiz:
	case snap.Scores.Team1 > snap.Scores.Team2:
		s.Winner = string(game.Team1)
	case snap.Scores.Team2 > snap.Scores.Team1:
		s.Winner = string(game.Team2)
	default:
		s.Winner = "tie"
	}
	return s
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeGameEnded:
		var payload queue.GameEndedPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return p.gameEnded(ctx, payload)
	case queue.JobTypeAutomation:
		var payload queue.AutomationPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return p.forward(ctx, payload.Endpoint, payload.Body)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) gameEnded(ctx context.Context, payload queue.GameEndedPayload) error {
	snap, err := p.sessions.Load(ctx, payload.SessionCode)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			p.logger.Warn("ended session no longer stored", zap.String("session_code", payload.SessionCode))
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}
	summary := Summarize(snap, payload.EndedAt)

	if p.uploader != nil {
		data, err := export.Bytes(snap)
		if err != nil {
			return fmt.Errorf("build workbook: %w", err)
		}
		key := storage.ResultsKey(snap.Code)
		url, err := p.uploader.Upload(ctx, key, storage.ContentTypeXLSX, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("upload results: %w", err)
		}
		summary.ResultsURL = url
		p.logger.Info("results archived", zap.String("session_code", snap.Code), zap.String("s3_key", key))
	}

	if p.automation == nil || !p.automation.Enabled() {
		return nil
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return p.forward(ctx, EndpointGameEnded, body)
}

func (p *Processor) forward(ctx context.Context, endpoint string, body []byte) error {
	if p.automation == nil || !p.automation.Enabled() {
		return proxy.ErrNotConfigured
	}
	res, err := p.automation.Forward(ctx, endpoint, body)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("automation %s: status %d", endpoint, res.Status)
	}
	p.logger.Debug("automation delivered", zap.String("endpoint", endpoint), zap.Int("status", res.Status))
	return nil
}

// Run dequeues and processes jobs until ctx is done. Failed jobs are retried
// and end up in the dead-letter queue after queue.MaxRetries attempts.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("worker stopping")
			return
		}
		job, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job, err); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	if p.backoff <= 0 {
		return
	}
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
