package warnings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swiftwatch/swiftwatch-backend/internal/audit"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

const maxWarningsPerRun = 10_000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type meterer interface {
	CheckAndIncrement(ctx context.Context, sub *models.Subscription, metric enums.UsageMetric, quantity int64) (*models.UsageLimit, error)
}

type subscriptionResolver interface {
	EnsureMetered(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
}

type auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// ServiceParams configures the warning ingest service.
type ServiceParams struct {
	Repo              Repository
	Subscriptions     subscriptionResolver
	Meterer           meterer
	Auditor           auditor
	TransactionRunner txRunner
	Now               func() time.Time
}

// Service persists parsed warning runs, admitting them through the usage
// meter on the warnings metric.
type Service struct {
	repo     Repository
	subs     subscriptionResolver
	meterer  meterer
	auditor  auditor
	txRunner txRunner
	now      func() time.Time
}

// NewService validates dependencies and returns a warning service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "warning repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription resolver required")
	}
	if params.Meterer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "meterer required")
	}
	if params.Auditor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "auditor required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     params.Repo,
		subs:     params.Subscriptions,
		meterer:  params.Meterer,
		auditor:  params.Auditor,
		txRunner: params.TransactionRunner,
		now:      now,
	}, nil
}

// WarningInput is one diagnostic inside an uploaded run. Type and severity
// arrive as raw strings so older parser builds keep working; unrecognized
// values degrade rather than reject the upload.
type WarningInput struct {
	Type         string
	Severity     string
	FilePath     string
	LineNumber   int
	ColumnNumber *int
	Message      string
	SuggestedFix *string
}

// IngestInput is an uploaded parse of one build log.
type IngestInput struct {
	CommitSHA   *string
	Branch      *string
	PullRequest *int
	Warnings    []WarningInput
}

// Ingest admits a warning run for the account. The run is metered against
// the warnings ceiling before anything is written; a denied run persists
// nothing.
func (s *Service) Ingest(ctx context.Context, accountID uuid.UUID, input IngestInput) (*models.WarningRun, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if len(input.Warnings) > maxWarningsPerRun {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "too many warnings in one run").
			WithDetails(map[string]any{"max": maxWarningsPerRun, "got": len(input.Warnings)})
	}
	for _, w := range input.Warnings {
		if w.FilePath == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "warning file path is required")
		}
		if w.Message == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "warning message is required")
		}
	}

	sub, err := s.subs.EnsureMetered(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// A clean build uploads zero warnings; it consumes no quota.
	if len(input.Warnings) > 0 {
		if _, err := s.meterer.CheckAndIncrement(ctx, sub, enums.UsageMetricWarnings, int64(len(input.Warnings))); err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeLimitExceeded) {
				s.auditor.Record(ctx, audit.Entry{
					AccountID: &accountID,
					Actor:     "account:" + accountID.String(),
					Category:  enums.AuditCategoryUsage,
					Action:    "warning_run_limit_exceeded",
					Success:   false,
					Metadata:  map[string]any{"warnings": len(input.Warnings)},
				})
			}
			return nil, err
		}
	}

	run := &models.WarningRun{
		ID:            uuid.New(),
		AccountID:     accountID,
		CommitSHA:     input.CommitSHA,
		Branch:        input.Branch,
		PullRequest:   input.PullRequest,
		TotalWarnings: len(input.Warnings),
	}
	rows := make([]models.Warning, 0, len(input.Warnings))
	for _, w := range input.Warnings {
		rows = append(rows, models.Warning{
			ID:           uuid.New(),
			RunID:        run.ID,
			Type:         enums.ParseWarningType(w.Type),
			Severity:     enums.ParseWarningSeverity(w.Severity),
			FilePath:     w.FilePath,
			LineNumber:   w.LineNumber,
			ColumnNumber: w.ColumnNumber,
			Message:      w.Message,
			SuggestedFix: w.SuggestedFix,
		})
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateRun(ctx, run); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create warning run")
		}
		if err := repo.CreateWarnings(ctx, rows); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create warnings")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		AccountID: &accountID,
		Actor:     "account:" + accountID.String(),
		Category:  enums.AuditCategoryUsage,
		Action:    "warning_run_ingested",
		Success:   true,
		Metadata:  map[string]any{"run_id": run.ID.String(), "warnings": len(input.Warnings)},
	})
	return run, nil
}

// RunDetail is a run with its warnings loaded.
type RunDetail struct {
	Run      *models.WarningRun
	Warnings []models.Warning
}

// GetRun loads one run owned by the account.
func (s *Service) GetRun(ctx context.Context, accountID, runID uuid.UUID) (*RunDetail, error) {
	run, err := s.repo.FindRunByID(ctx, runID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load warning run")
	}
	if run == nil || run.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "warning run not found")
	}
	rows, err := s.repo.ListWarningsByRun(ctx, run.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load warnings")
	}
	return &RunDetail{Run: run, Warnings: rows}, nil
}

// ListRuns pages the account's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.WarningRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	runs, err := s.repo.ListRunsByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list warning runs")
	}
	return runs, nil
}

// Summary aggregates the account's warnings since the given time into
// per-type and per-severity counts.
type Summary struct {
	Since      time.Time        `json:"since"`
	ByType     map[string]int64 `json:"by_type"`
	BySeverity map[string]int64 `json:"by_severity"`
}

// Summarize builds the trend summary for the account.
func (s *Service) Summarize(ctx context.Context, accountID uuid.UUID, since time.Time) (*Summary, error) {
	if since.IsZero() {
		since = s.now().AddDate(0, -1, 0)
	}
	byType, err := s.repo.CountByType(ctx, accountID, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count warnings by type")
	}
	bySeverity, err := s.repo.CountBySeverity(ctx, accountID, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count warnings by severity")
	}

	summary := &Summary{
		Since:      since,
		ByType:     make(map[string]int64, len(byType)),
		BySeverity: make(map[string]int64, len(bySeverity)),
	}
	for _, bucket := range byType {
		summary.ByType[bucket.Type] = bucket.Count
	}
	for _, bucket := range bySeverity {
		summary.BySeverity[bucket.Severity] = bucket.Count
	}
	return summary, nil
}
