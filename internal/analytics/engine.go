// Package analytics computes progress tracking, reports, milestone status
// and aggregate metrics from stored rows. Everything is computed on demand;
// there is no materialized view.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// Engine aggregates progress events and work-item snapshots.
type Engine struct {
	store  *storage.Store
	items  *repository.WorkItemRepository
	logger *logrus.Logger
}

// NewEngine creates an analytics engine.
func NewEngine(store *storage.Store, items *repository.WorkItemRepository, log *logrus.Logger) *Engine {
	return &Engine{store: store, items: items, logger: log}
}

// TrackInput is one progress sample.
type TrackInput struct {
	EntityID           uuid.UUID
	EntityType         string
	ProgressPercentage float64
	Status             string
	Notes              string
	Blockers           []string
}

// Track appends a progress event, updates the live work item and rolls the
// change up the ancestor chain.
func (e *Engine) Track(ctx context.Context, ns string, in TrackInput) (*models.ProgressEvent, error) {
	if in.ProgressPercentage < 0 || in.ProgressPercentage > 100 {
		return nil, jiveerr.New(jiveerr.CodeValidation, "progress_percentage must be 0-100")
	}
	if in.Status != "" && !models.ValidStatus(in.Status) {
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid status %q", in.Status)
	}
	if in.EntityType == "" {
		in.EntityType = "work_item"
	}

	item, err := e.items.Get(ctx, ns, in.EntityID.String())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	event := &models.ProgressEvent{
		ID:                 uuid.New(),
		Namespace:          ns,
		EntityID:           in.EntityID,
		EntityType:         in.EntityType,
		ProgressPercentage: in.ProgressPercentage,
		Status:             in.Status,
		Notes:              in.Notes,
		Blockers:           in.Blockers,
		RecordedAt:         now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if event.Blockers == nil {
		event.Blockers = []string{}
	}
	if err := e.store.Upsert(ctx, event); err != nil {
		return nil, jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "failed to append progress event")
	}

	item.ProgressPercentage = in.ProgressPercentage
	if in.Status != "" {
		item.Status = in.Status
	} else if in.ProgressPercentage >= 100 {
		item.Status = models.StatusCompleted
	}
	if err := e.items.Touch(ctx, item); err != nil {
		return nil, err
	}
	if err := e.items.RollupAncestors(ctx, ns, item.ID); err != nil {
		e.logger.WithError(err).WithField("id", item.ID).Warn("Ancestor rollup failed")
	}
	return event, nil
}

// ReportEntry is one line of a progress report.
type ReportEntry struct {
	Item    models.WorkItem        `json:"item"`
	History []models.ProgressEvent `json:"history,omitempty"`
}

// Report groups current snapshots, optionally flattening per-item history.
func (e *Engine) Report(ctx context.Context, ns string, filter repository.ListFilter, groupBy string, includeHistory bool) (map[string][]ReportEntry, error) {
	switch groupBy {
	case "", "status", "priority", "item_type", "assignee":
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid group_by %q", groupBy)
	}
	filter.Limit = 100
	items, _, _, err := e.items.List(ctx, ns, filter)
	if err != nil {
		return nil, err
	}

	var events map[uuid.UUID][]models.ProgressEvent
	if includeHistory {
		events, err = e.eventsByEntity(ctx, ns)
		if err != nil {
			return nil, err
		}
	}

	report := make(map[string][]ReportEntry)
	for _, item := range items {
		key := "all"
		switch groupBy {
		case "status":
			key = item.Status
		case "priority":
			key = item.Priority
		case "item_type":
			key = item.ItemType
		case "assignee":
			key = item.Assignee
			if key == "" {
				key = "unassigned"
			}
		}
		entry := ReportEntry{Item: item}
		if includeHistory {
			entry.History = events[item.ID]
		}
		report[key] = append(report[key], entry)
	}
	return report, nil
}

// MilestoneStatus is a stored milestone with derived schedule fields.
type MilestoneStatus struct {
	Milestone    models.Milestone `json:"milestone"`
	DaysToTarget int              `json:"days_to_target"`
	Progress     float64          `json:"progress"`
}

// SetMilestone stores a milestone and returns its derived status.
func (e *Engine) SetMilestone(ctx context.Context, ns string, m *models.Milestone) (*MilestoneStatus, error) {
	if m.Title == "" {
		return nil, jiveerr.New(jiveerr.CodeValidation, "milestone title must not be empty")
	}
	now := time.Now().UTC()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
		m.CreatedAt = now
	}
	m.Namespace = ns
	m.UpdatedAt = now
	if m.Priority == "" {
		m.Priority = models.PriorityMedium
	}
	if m.AssociatedWorkItemIDs == nil {
		m.AssociatedWorkItemIDs = []uuid.UUID{}
	}
	if m.SuccessCriteria == nil {
		m.SuccessCriteria = []string{}
	}
	if err := e.store.Upsert(ctx, m); err != nil {
		return nil, jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "failed to store milestone")
	}
	return e.milestoneStatus(ctx, ns, m)
}

// Milestones returns every milestone in the namespace with derived status.
func (e *Engine) Milestones(ctx context.Context, ns string) ([]MilestoneStatus, error) {
	var rows []models.Milestone
	if err := e.store.Scan(ctx, &rows, storage.Filter{"namespace": ns}, storage.Query{OrderBy: "target_date"}); err != nil {
		return nil, jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "failed to scan milestones")
	}
	out := make([]MilestoneStatus, 0, len(rows))
	for i := range rows {
		st, err := e.milestoneStatus(ctx, ns, &rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func (e *Engine) milestoneStatus(ctx context.Context, ns string, m *models.Milestone) (*MilestoneStatus, error) {
	st := &MilestoneStatus{Milestone: *m}
	// negative when the target date is already past
	st.DaysToTarget = int(time.Until(m.TargetDate).Hours() / 24)

	if len(m.AssociatedWorkItemIDs) > 0 {
		var total float64
		counted := 0
		for _, id := range m.AssociatedWorkItemIDs {
			item, err := e.items.Get(ctx, ns, id.String())
			if err != nil {
				continue
			}
			total += item.ProgressPercentage
			counted++
		}
		if counted > 0 {
			st.Progress = total / float64(counted)
		}
	}
	return st, nil
}

// Analytics is the aggregate metrics payload.
type Analytics struct {
	TimePeriodDays   int              `json:"time_period_days"`
	TotalItems       int              `json:"total_items"`
	CountsByStatus   map[string]int   `json:"counts_by_status"`
	CompletionRate   float64          `json:"completion_rate"`
	AvgCycleTimeDays float64          `json:"avg_cycle_time_days"`
	VelocityPerWeek  float64          `json:"velocity_per_week"`
	ActiveBlockers   []string         `json:"active_blockers,omitempty"`
}

// ComputeAnalytics derives counts, completion rate, average cycle time
// (first in_progress event to completed event) and weekly velocity over the
// given window.
func (e *Engine) ComputeAnalytics(ctx context.Context, ns string, periodDays int) (*Analytics, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -periodDays)

	var items []models.WorkItem
	if err := e.store.Scan(ctx, &items, storage.Filter{"namespace": ns}, storage.Query{}); err != nil {
		return nil, jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "failed to scan work items")
	}

	out := &Analytics{
		TimePeriodDays: periodDays,
		TotalItems:     len(items),
		CountsByStatus: make(map[string]int),
	}
	completed := 0
	for _, item := range items {
		out.CountsByStatus[item.Status]++
		if item.Status == models.StatusCompleted {
			completed++
		}
	}
	if len(items) > 0 {
		out.CompletionRate = float64(completed) / float64(len(items))
	}

	events, err := e.eventsByEntity(ctx, ns)
	if err != nil {
		return nil, err
	}

	var cycleTimes []float64
	completedInPeriod := 0
	blockerSet := make(map[string]struct{})
	for _, history := range events {
		sort.SliceStable(history, func(i, j int) bool { return history[i].RecordedAt.Before(history[j].RecordedAt) })
		var started, finished *time.Time
		for i := range history {
			ev := history[i]
			if started == nil && ev.Status == models.StatusInProgress {
				t := ev.RecordedAt
				started = &t
			}
			if ev.Status == models.StatusCompleted {
				t := ev.RecordedAt
				finished = &t
			}
			if ev.Status == models.StatusBlocked {
				for _, b := range ev.Blockers {
					blockerSet[b] = struct{}{}
				}
			}
		}
		if finished != nil && finished.After(cutoff) {
			completedInPeriod++
			if started != nil && finished.After(*started) {
				cycleTimes = append(cycleTimes, finished.Sub(*started).Hours()/24)
			}
		}
	}
	if len(cycleTimes) > 0 {
		var sum float64
		for _, c := range cycleTimes {
			sum += c
		}
		out.AvgCycleTimeDays = sum / float64(len(cycleTimes))
	}
	weeks := float64(periodDays) / 7
	if weeks > 0 {
		out.VelocityPerWeek = float64(completedInPeriod) / weeks
	}
	for b := range blockerSet {
		out.ActiveBlockers = append(out.ActiveBlockers, b)
	}
	sort.Strings(out.ActiveBlockers)
	return out, nil
}

// StatusSnapshot returns the live snapshot of one item plus its most recent
// events.
func (e *Engine) StatusSnapshot(ctx context.Context, ns string, id uuid.UUID, historyLimit int) (*ReportEntry, error) {
	item, err := e.items.Get(ctx, ns, id.String())
	if err != nil {
		return nil, err
	}
	var history []models.ProgressEvent
	q := storage.Query{OrderBy: "recorded_at", Desc: true}
	if historyLimit > 0 {
		q.Limit = historyLimit
	}
	if err := e.store.Scan(ctx, &history, storage.Filter{"namespace": ns, "entity_id": id}, q); err != nil {
		return nil, jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "failed to scan progress events")
	}
	return &ReportEntry{Item: *item, History: history}, nil
}

func (e *Engine) eventsByEntity(ctx context.Context, ns string) (map[uuid.UUID][]models.ProgressEvent, error) {
	var events []models.ProgressEvent
	if err := e.store.Scan(ctx, &events, storage.Filter{"namespace": ns}, storage.Query{OrderBy: "recorded_at"}); err != nil {
		return nil, jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "failed to scan progress events")
	}
	byEntity := make(map[uuid.UUID][]models.ProgressEvent)
	for _, ev := range events {
		byEntity[ev.EntityID] = append(byEntity[ev.EntityID], ev)
	}
	return byEntity, nil
}
