// Package execution keeps the append-only execution records behind
// jive_execute_work_item. The server does not own the executing agent, so
// records track intent and observed state; cancellation is advisory.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// Manager owns the execution_logs table.
type Manager struct {
	store  *storage.Store
	items  *repository.WorkItemRepository
	logger *logrus.Logger
}

// NewManager creates an execution manager.
func NewManager(store *storage.Store, items *repository.WorkItemRepository, log *logrus.Logger) *Manager {
	return &Manager{store: store, items: items, logger: log}
}

// Readiness is the result of a pre-execution dependency check.
type Readiness struct {
	Ready    bool     `json:"ready"`
	Blockers []string `json:"blockers,omitempty"`
}

// Validate checks whether every blocks-predecessor of the item is completed.
func (m *Manager) Validate(ctx context.Context, ns string, workItemID uuid.UUID) (*Readiness, error) {
	if _, err := m.items.Get(ctx, ns, workItemID.String()); err != nil {
		return nil, err
	}
	deps, err := m.items.GetDependencies(ctx, ns, workItemID, "in", false)
	if err != nil {
		return nil, err
	}
	readiness := &Readiness{Ready: true}
	for _, edge := range deps.Edges {
		if edge.DependencyType != models.DepBlocks || edge.TargetID != workItemID {
			continue
		}
		for _, item := range deps.Items {
			if item.ID == edge.SourceID && item.Status != models.StatusCompleted {
				readiness.Ready = false
				readiness.Blockers = append(readiness.Blockers, item.ID.String())
			}
		}
	}
	return readiness, nil
}

// Execute validates readiness, records a running execution and marks the
// work item in_progress.
func (m *Manager) Execute(ctx context.Context, ns string, workItemID uuid.UUID, notes string) (*models.ExecutionLog, error) {
	readiness, err := m.Validate(ctx, ns, workItemID)
	if err != nil {
		return nil, err
	}
	if !readiness.Ready {
		return nil, jiveerr.New(jiveerr.CodeValidation, "work item %s has incomplete blocking dependencies", workItemID).
			WithDetails(map[string]interface{}{"blockers": readiness.Blockers})
	}

	now := time.Now().UTC()
	log := &models.ExecutionLog{
		ID:         uuid.New(),
		Namespace:  ns,
		WorkItemID: workItemID,
		State:      models.ExecQueued,
		StartedAt:  now,
		Artifacts:  []string{},
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.Upsert(ctx, log); err != nil {
		return nil, mapErr(err)
	}

	// hand-off to the agent is immediate in-process, so the record moves
	// straight to running
	log.State = models.ExecRunning
	log.UpdatedAt = time.Now().UTC()
	if err := m.store.Upsert(ctx, log); err != nil {
		return nil, mapErr(err)
	}

	item, err := m.items.Get(ctx, ns, workItemID.String())
	if err == nil && item.Status == models.StatusNotStarted {
		status := models.StatusInProgress
		if _, _, err := m.items.Update(ctx, ns, item.ID, repository.WorkItemPatch{Status: &status}); err != nil {
			m.logger.WithError(err).WithField("id", item.ID).Warn("Failed to mark work item in_progress")
		}
	}

	m.logger.WithFields(logrus.Fields{"namespace": ns, "work_item": workItemID, "execution": log.ID}).Info("Execution started")
	return log, nil
}

// Status returns an execution record by id.
func (m *Manager) Status(ctx context.Context, ns string, executionID uuid.UUID) (*models.ExecutionLog, error) {
	var log models.ExecutionLog
	if err := m.store.Get(ctx, &log, storage.Filter{"namespace": ns, "id": executionID}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, jiveerr.New(jiveerr.CodeNotFound, "execution %s not found", executionID)
		}
		return nil, mapErr(err)
	}
	return &log, nil
}

// Cancel marks a queued or running execution cancelled and stamps its end
// time. Cancelling a finished execution is a validation error.
func (m *Manager) Cancel(ctx context.Context, ns string, executionID uuid.UUID, reason string) (*models.ExecutionLog, error) {
	log, err := m.Status(ctx, ns, executionID)
	if err != nil {
		return nil, err
	}
	switch log.State {
	case models.ExecQueued, models.ExecRunning:
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "execution %s is already %s", executionID, log.State)
	}

	now := time.Now().UTC()
	log.State = models.ExecCancelled
	log.EndedAt = &now
	if reason != "" {
		log.Error = reason
	}
	log.UpdatedAt = now
	if err := m.store.Upsert(ctx, log); err != nil {
		return nil, mapErr(err)
	}
	m.logger.WithFields(logrus.Fields{"namespace": ns, "execution": executionID}).Info("Execution cancelled")
	return log, nil
}

// Complete records a terminal state reported by the executing agent.
func (m *Manager) Complete(ctx context.Context, ns string, executionID uuid.UUID, failed bool, errMsg string, artifacts []string) (*models.ExecutionLog, error) {
	log, err := m.Status(ctx, ns, executionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if failed {
		log.State = models.ExecFailed
		log.Error = errMsg
	} else {
		log.State = models.ExecCompleted
	}
	if len(artifacts) > 0 {
		log.Artifacts = append(log.Artifacts, artifacts...)
	}
	log.EndedAt = &now
	log.UpdatedAt = now
	if err := m.store.Upsert(ctx, log); err != nil {
		return nil, mapErr(err)
	}
	return log, nil
}

// History lists executions for one work item, newest first.
func (m *Manager) History(ctx context.Context, ns string, workItemID uuid.UUID, limit int) ([]models.ExecutionLog, error) {
	var logs []models.ExecutionLog
	q := storage.Query{OrderBy: "started_at", Desc: true}
	if limit > 0 {
		q.Limit = limit
	}
	if err := m.store.Scan(ctx, &logs, storage.Filter{"namespace": ns, "work_item_id": workItemID}, q); err != nil {
		return nil, mapErr(err)
	}
	return logs, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return jiveerr.Wrap(jiveerr.CodeNotFound, err, "record not found")
	case errors.Is(err, storage.ErrUnavailable):
		return jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "store unavailable")
	default:
		return jiveerr.Wrap(jiveerr.CodeInternal, err, "store operation failed")
	}
}
