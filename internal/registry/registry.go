// Package registry implements the domain write-back services behind the
// action executor: registrations, report submissions, status lookups, and
// the profile lookup derived from prior registrations.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/civicrelay/civicrelay/internal/models"
	"github.com/civicrelay/civicrelay/internal/store"
)

// Registry persists domain records through the shared store and answers
// lookups over them.
type Registry struct {
	store store.Store
}

// New creates a Registry backed by the given store.
func New(st store.Store) *Registry {
	slog.Debug("Creating Registry")
	return &Registry{store: st}
}

// RegisterEntity records a completed registration and returns its reference.
func (r *Registry) RegisterEntity(ctx context.Context, userID string, category models.UserType, fields map[string]any) (string, error) {
	reg := models.Registration{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  category,
		Fields:    copyFields(fields),
		CreatedAt: time.Now(),
	}
	if err := r.store.SaveRegistration(reg); err != nil {
		slog.Error("Registry.RegisterEntity: save failed", "error", err, "userID", userID, "category", category)
		return "", fmt.Errorf("failed to save registration: %w", err)
	}
	slog.Info("Registry.RegisterEntity: registration recorded", "userID", userID, "category", category, "registrationID", reg.ID)
	return reg.ID, nil
}

// SubmitRecord files a report and returns its reference.
func (r *Registry) SubmitRecord(ctx context.Context, userID string, category models.UserType, fields map[string]any) (string, error) {
	report := models.Report{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  category,
		Fields:    copyFields(fields),
		Status:    models.ReportStatusReceived,
		CreatedAt: time.Now(),
	}
	if err := r.store.SaveReport(report); err != nil {
		slog.Error("Registry.SubmitRecord: save failed", "error", err, "userID", userID)
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	slog.Info("Registry.SubmitRecord: report recorded", "userID", userID, "reportID", report.ID)
	return report.ID, nil
}

// QueryStatus summarizes the user's reports in a short text suitable for a
// chat reply.
func (r *Registry) QueryStatus(ctx context.Context, userID string) (string, error) {
	reports, err := r.store.ListReportsByUser(userID)
	if err != nil {
		slog.Error("Registry.QueryStatus: list failed", "error", err, "userID", userID)
		return "", fmt.Errorf("failed to list reports: %w", err)
	}
	if len(reports) == 0 {
		return "You have no reports on file yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d report(s) on file:", len(reports))
	for _, report := range reports {
		label := "issue"
		if v, ok := report.Fields["issue_type"].(string); ok && v != "" {
			label = v
		}
		fmt.Fprintf(&b, "\n- %s filed %s: %s", label, report.CreatedAt.Format("Jan 2"), report.Status)
	}
	return b.String(), nil
}

// LookupProfile derives a profile from the user's most recent registration.
// Returns (nil, nil) for unregistered users.
func (r *Registry) LookupProfile(ctx context.Context, userID string) (*models.Profile, error) {
	reg, err := r.store.GetRegistrationByUser(userID)
	if err != nil {
		slog.Error("Registry.LookupProfile: lookup failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to look up registration: %w", err)
	}
	if reg == nil {
		return nil, nil
	}

	profile := &models.Profile{
		UserID:       reg.UserID,
		Category:     reg.Category,
		RegisteredAt: reg.CreatedAt,
	}
	if v, ok := reg.Fields["full_name"].(string); ok {
		profile.Name = v
	}
	if v, ok := reg.Fields["company_name"].(string); ok {
		profile.Company = v
	}
	return profile, nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
