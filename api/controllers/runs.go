package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/api/middleware"
	"github.com/swiftwatch/swiftwatch-backend/api/responses"
	"github.com/swiftwatch/swiftwatch-backend/api/validators"
	"github.com/swiftwatch/swiftwatch-backend/internal/warnings"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
	"github.com/swiftwatch/swiftwatch-backend/pkg/logger"
)

type ingestWarningPayload struct {
	Type         string  `json:"type"`
	Severity     string  `json:"severity"`
	FilePath     string  `json:"file_path" validate:"required"`
	LineNumber   int     `json:"line_number" validate:"min=0"`
	ColumnNumber *int    `json:"column_number"`
	Message      string  `json:"message" validate:"required"`
	SuggestedFix *string `json:"suggested_fix"`
}

type ingestRunPayload struct {
	CommitSHA   *string                `json:"commit_sha"`
	Branch      *string                `json:"branch"`
	PullRequest *int                   `json:"pull_request"`
	Warnings    []ingestWarningPayload `json:"warnings" validate:"dive"`
}

type runView struct {
	ID            uuid.UUID `json:"id"`
	CommitSHA     *string   `json:"commit_sha,omitempty"`
	Branch        *string   `json:"branch,omitempty"`
	PullRequest   *int      `json:"pull_request,omitempty"`
	TotalWarnings int       `json:"total_warnings"`
	CreatedAt     time.Time `json:"created_at"`
}

type warningView struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	FilePath     string    `json:"file_path"`
	LineNumber   int       `json:"line_number"`
	ColumnNumber *int      `json:"column_number,omitempty"`
	Message      string    `json:"message"`
	SuggestedFix *string   `json:"suggested_fix,omitempty"`
}

type runDetailView struct {
	runView
	Warnings []warningView `json:"warnings"`
}

func toRunView(run *models.WarningRun) runView {
	return runView{
		ID:            run.ID,
		CommitSHA:     run.CommitSHA,
		Branch:        run.Branch,
		PullRequest:   run.PullRequest,
		TotalWarnings: run.TotalWarnings,
		CreatedAt:     run.CreatedAt,
	}
}

func toWarningView(row models.Warning) warningView {
	return warningView{
		ID:           row.ID,
		Type:         row.Type.String(),
		Severity:     row.Severity.String(),
		FilePath:     row.FilePath,
		LineNumber:   row.LineNumber,
		ColumnNumber: row.ColumnNumber,
		Message:      row.Message,
		SuggestedFix: row.SuggestedFix,
	}
}

// RunsIngest accepts one uploaded build log parse for the authenticated
// account. A run that would exceed the plan's warnings ceiling is rejected
// whole and persists nothing.
func RunsIngest(svc *warnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "warnings service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		var payload ingestRunPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := warnings.IngestInput{
			CommitSHA:   payload.CommitSHA,
			Branch:      payload.Branch,
			PullRequest: payload.PullRequest,
			Warnings:    make([]warnings.WarningInput, 0, len(payload.Warnings)),
		}
		for _, row := range payload.Warnings {
			input.Warnings = append(input.Warnings, warnings.WarningInput{
				Type:         row.Type,
				Severity:     row.Severity,
				FilePath:     row.FilePath,
				LineNumber:   row.LineNumber,
				ColumnNumber: row.ColumnNumber,
				Message:      row.Message,
				SuggestedFix: row.SuggestedFix,
			})
		}

		run, err := svc.Ingest(ctx, accountID, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toRunView(run))
	}
}

// RunsList returns the account's runs, newest first.
func RunsList(svc *warnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "warnings service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 10_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		runs, err := svc.ListRuns(ctx, accountID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		views := make([]runView, 0, len(runs))
		for i := range runs {
			views = append(views, toRunView(&runs[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// RunsGet returns one run with its warnings.
func RunsGet(svc *warnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "warnings service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		runID, err := uuid.Parse(chi.URLParam(r, "runId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid run id"))
			return
		}

		detail, err := svc.GetRun(ctx, accountID, runID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view := runDetailView{
			runView:  toRunView(detail.Run),
			Warnings: make([]warningView, 0, len(detail.Warnings)),
		}
		for _, row := range detail.Warnings {
			view.Warnings = append(view.Warnings, toWarningView(row))
		}
		responses.WriteSuccess(w, view)
	}
}

// RunsSummary returns warning counts by type and severity since the given
// time, defaulting to the last month.
func RunsSummary(svc *warnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "warnings service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(ctx)
		if accountID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		var since time.Time
		if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "since must be RFC 3339"))
				return
			}
			since = parsed
		}

		summary, err := svc.Summarize(ctx, accountID, since)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
