// internal/historian/historian.go
package historian

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/cache"
	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Queue yields activity records; Pop returns (nil, nil) when the wait timed out.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.Activity, error)
}

// Writer persists batches and closes idle sessions.
type Writer interface {
	InsertBatch(ctx context.Context, batch []models.Activity) error
	MarkLobbyExpired(ctx context.Context, lobbyID string) (bool, error)
}

type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	// Inactivity is how long a lobby may be silent before its session is marked expired.
	Inactivity time.Duration
	// CheckInterval is how often inactivity is evaluated.
	CheckInterval time.Duration
	PopTimeout    time.Duration
}

// Service drains the activity queue into the database in batches and marks lobbies
// expired once they have been silent for longer than the inactivity window.
type Service struct {
	queue  Queue
	writer Writer
	cfg    Config
	logger logrus.FieldLogger
	now    func() time.Time

	lastActivity sync.Map // lobby id -> time.Time of the last record seen

	batchMu sync.Mutex
	batch   []models.Activity
}

func New(q Queue, w Writer, cfg Config, logger logrus.FieldLogger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = 180 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		queue:  q,
		writer: w,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		batch:  make([]models.Activity, 0, cfg.BatchSize),
	}
}

// Run blocks until ctx is done, then flushes whatever is still buffered.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("diceonline-historian service started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error {
		s.tick(gctx, s.cfg.FlushInterval, s.Flush)
		return nil
	})
	g.Go(func() error {
		s.tick(gctx, s.cfg.CheckInterval, func(ctx context.Context) { s.CheckInactivity(ctx, s.now()) })
		return nil
	})
	err := g.Wait()

	// The run context is gone; give the final flush its own short deadline.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(flushCtx)

	s.logger.Info("diceonline-historian shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := s.queue.Pop(ctx, s.cfg.PopTimeout)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, cache.ErrMalformed):
			s.logger.WithError(err).Warn("dropping malformed activity record")
			continue
		case err != nil:
			s.logger.WithError(err).Error("activity queue pop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		case rec == nil:
			continue
		}
		s.Accept(ctx, *rec)
	}
}

// Accept buffers one record and flushes once the batch is full.
func (s *Service) Accept(ctx context.Context, rec models.Activity) {
	if rec.Type == models.ActivityLobbyClosed {
		s.lastActivity.Delete(rec.LobbyID)
	} else {
		s.lastActivity.Store(rec.LobbyID, s.now())
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the buffered records in a single transaction. A failed batch is put back
// in front of anything buffered since, so the next flush retries it.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := make([]models.Activity, len(s.batch))
	copy(pending, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	if err := s.writer.InsertBatch(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("records", len(pending)).Error("flush to database failed")
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.logger.WithField("records", len(pending)).Debug("flushed lobby activity")
}

// Pending reports how many records are buffered.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// CheckInactivity marks every lobby silent for longer than the inactivity window as expired.
func (s *Service) CheckInactivity(ctx context.Context, now time.Time) int {
	marked := 0
	s.lastActivity.Range(func(key, val any) bool {
		lobbyID, ok1 := key.(string)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.cfg.Inactivity {
			return true
		}
		// Make sure the session row exists before flagging it.
		s.Flush(ctx)
		changed, err := s.writer.MarkLobbyExpired(ctx, lobbyID)
		if err != nil {
			s.logger.WithError(err).WithField("lobby_id", lobbyID).Warn("failed to mark lobby expired")
			return true
		}
		s.lastActivity.Delete(lobbyID)
		if changed {
			marked++
			s.logger.WithField("lobby_id", lobbyID).Info("marked lobby session expired due to inactivity")
		}
		return true
	})
	return marked
}

func (s *Service) tick(ctx context.Context, every time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
