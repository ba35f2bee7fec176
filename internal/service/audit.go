package service

import (
	"context"
	"sync"
	"time"

	"github.com/atinyakov/sessionlock/internal/models"
	"go.uber.org/zap"
)

// AuditRepository defines the persistence operations required by
// the AuditService.
type AuditRepository interface {
	// InsertEvent stores one lock event.
	InsertEvent(ctx context.Context, e models.AuditEvent) error
	// ListEvents returns the newest events of a user, newest first.
	ListEvents(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error)
}

// DefaultAuditWriteTimeout bounds a single audit insert.
const DefaultAuditWriteTimeout = 5 * time.Second

// AuditService persists lock events without blocking the controller.
type AuditService struct {
	repo    AuditRepository
	log     *zap.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewAuditService constructs an AuditService. A nil logger is replaced by
// a no-op logger.
func NewAuditService(repo AuditRepository, log *zap.Logger) *AuditService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditService{repo: repo, log: log, timeout: DefaultAuditWriteTimeout}
}

// Record stores e in the background. Failures are logged and dropped.
func (s *AuditService) Record(e models.AuditEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.repo.InsertEvent(ctx, e); err != nil {
			s.log.Error("failed to store lock audit event",
				zap.String("user_id", e.UserID),
				zap.String("kind", string(e.Kind)),
				zap.Error(err),
			)
		}
	}()
}

// List returns up to limit recent events of userID.
func (s *AuditService) List(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	return s.repo.ListEvents(ctx, userID, limit)
}

// Wait blocks until every pending Record has finished.
func (s *AuditService) Wait() {
	s.wg.Wait()
}
