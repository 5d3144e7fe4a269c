package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

const defaultQueueSize = 1024

// Entry is one auditable action submitted to the recorder.
type Entry struct {
	AccountID *uuid.UUID
	Actor     string
	Category  enums.AuditCategory
	Action    string
	Success   bool
	Metadata  map[string]any
}

// RecorderParams configures the audit recorder.
type RecorderParams struct {
	Repo      Repository
	Logger    *logger.Logger
	QueueSize int
}

// Recorder persists audit entries off the request path. Submission never
// blocks: when the queue is full the entry is logged instead of dropped
// silently, and the caller proceeds either way.
type Recorder struct {
	repo   Repository
	logg   *logger.Logger
	queue  chan Entry
	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}
}

// NewRecorder validates dependencies and returns a stopped recorder. Call
// Start before submitting entries.
func NewRecorder(params RecorderParams) (*Recorder, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repo required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	size := params.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Recorder{
		repo:   params.Repo,
		logg:   params.Logger,
		queue:  make(chan Entry, size),
		closed: make(chan struct{}),
	}, nil
}

// Start launches the background writer.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case entry := <-r.queue:
				r.persist(ctx, entry)
			case <-r.closed:
				r.drain(ctx)
				return
			case <-ctx.Done():
				r.drain(ctx)
				return
			}
		}
	}()
}

// Close stops accepting entries and waits for the queue to drain. The queue
// channel itself is never closed: Record may race Close from request
// goroutines, and a send on a closed channel panics. Entries that slip in
// while the writer winds down are drained here.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.closed)
	})
	r.wg.Wait()
	r.drain(context.Background())
}

// Record submits an entry for asynchronous persistence. It never blocks and
// never returns an error to the caller: audit failures must not fail the
// audited operation.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	select {
	case <-r.closed:
		r.logFallback(ctx, entry, "audit recorder closed")
		return
	default:
	}
	select {
	case r.queue <- entry:
	default:
		r.logFallback(ctx, entry, "audit queue full")
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case entry := <-r.queue:
			r.persist(ctx, entry)
		default:
			return
		}
	}
}

func (r *Recorder) persist(ctx context.Context, entry Entry) {
	score := ScoreEntry(entry.Category, entry.Action, entry.Success)

	var metadata json.RawMessage
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			r.logFallback(ctx, entry, "encode audit metadata")
		} else {
			metadata = encoded
		}
	}

	row := &models.AuditEntry{
		ID:        uuid.New(),
		AccountID: entry.AccountID,
		Actor:     entry.Actor,
		Category:  entry.Category,
		Action:    entry.Action,
		RiskScore: score,
		Success:   entry.Success,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.CreateEntry(ctx, row); err != nil {
		r.logg.Error(ctx, "persist audit entry", err)
		r.logFallback(ctx, entry, "audit persistence failed")
		return
	}

	severity, flagged := SeverityFor(score)
	if !flagged {
		return
	}
	event := &models.SecurityEvent{
		ID:           uuid.New(),
		AuditEntryID: row.ID,
		Severity:     severity,
		Description:  entry.Action,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.repo.CreateSecurityEvent(ctx, event); err != nil {
		r.logg.Error(ctx, "persist security event", err)
	}
}

func (r *Recorder) logFallback(ctx context.Context, entry Entry, reason string) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"audit_actor":    entry.Actor,
		"audit_category": entry.Category.String(),
		"audit_action":   entry.Action,
		"audit_success":  entry.Success,
	})
	r.logg.Warn(ctx, reason)
}
