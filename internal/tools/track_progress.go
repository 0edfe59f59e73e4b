package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vuxtra/mcp-jive/internal/analytics"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// TrackProgressTool records progress and serves reports, milestones and
// aggregate analytics.
type TrackProgressTool struct {
	engine *analytics.Engine
}

// NewTrackProgressTool wires the tool to the analytics engine.
func NewTrackProgressTool(engine *analytics.Engine) *TrackProgressTool {
	return &TrackProgressTool{engine: engine}
}

func (t *TrackProgressTool) Name() string { return "jive_track_progress" }

func (t *TrackProgressTool) Description() string {
	return "Record progress, report on it, manage milestones and compute analytics."
}

func (t *TrackProgressTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["track", "get_report", "set_milestone", "get_analytics", "get_status"]},
    "namespace": {"type": "string"},
    "entity_id": {"type": "string"},
    "entity_type": {"type": "string", "default": "work_item"},
    "progress_percentage": {"type": "number", "minimum": 0, "maximum": 100},
    "status": {"type": "string", "enum": ["not_started", "in_progress", "completed", "blocked", "cancelled"]},
    "notes": {"type": "string"},
    "blockers": {"type": "array", "items": {"type": "string"}},
    "group_by": {"type": "string", "enum": ["status", "priority", "item_type", "assignee"]},
    "include_history": {"type": "boolean", "default": false},
    "item_type": {"type": "string", "enum": ["initiative", "epic", "feature", "story", "task"]},
    "milestone": {
      "type": "object",
      "additionalProperties": false,
      "required": ["title", "target_date"],
      "properties": {
        "title": {"type": "string"},
        "description": {"type": "string"},
        "milestone_type": {"type": "string"},
        "target_date": {"type": "string", "format": "date-time"},
        "associated_work_item_ids": {"type": "array", "items": {"type": "string"}},
        "success_criteria": {"type": "array", "items": {"type": "string"}},
        "priority": {"type": "string", "enum": ["low", "medium", "high", "critical"]}
      }
    },
    "time_period_days": {"type": "integer", "minimum": 1, "maximum": 365},
    "history_limit": {"type": "integer", "minimum": 1, "maximum": 100}
  }
}`
}

func (t *TrackProgressTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	switch strArg(args, "action") {
	case "track":
		return t.track(ctx, rc, args)
	case "get_report":
		return t.report(ctx, rc, args)
	case "set_milestone":
		return t.setMilestone(ctx, rc, args)
	case "get_analytics":
		analyticsOut, err := t.engine.ComputeAnalytics(ctx, rc.Namespace, intArg(args, "time_period_days"))
		if err != nil {
			return nil, nil, err
		}
		return analyticsOut, nil, nil
	case "get_status":
		id, err := uuidArg(args, "entity_id")
		if err != nil {
			return nil, nil, err
		}
		limit := intArg(args, "history_limit")
		if limit == 0 {
			limit = 10
		}
		snapshot, err := t.engine.StatusSnapshot(ctx, rc.Namespace, id, limit)
		if err != nil {
			return nil, nil, err
		}
		return snapshot, nil, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeInvalidAction, "unknown action %q", strArg(args, "action"))
	}
}

func (t *TrackProgressTool) track(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	id, err := uuidArg(args, "entity_id")
	if err != nil {
		return nil, nil, err
	}
	progress, ok := floatArg(args, "progress_percentage")
	if !ok {
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "progress_percentage is required for track")
	}
	in := analytics.TrackInput{
		EntityID:           id,
		EntityType:         strArg(args, "entity_type"),
		ProgressPercentage: progress,
		Status:             strArg(args, "status"),
		Notes:              strArg(args, "notes"),
	}
	if blockers, ok := strSliceArg(args, "blockers"); ok {
		in.Blockers = blockers
	}
	event, err := t.engine.Track(ctx, rc.Namespace, in)
	if err != nil {
		return nil, nil, err
	}
	return event, nil, nil
}

func (t *TrackProgressTool) report(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	filter := repository.ListFilter{
		ItemType: strArg(args, "item_type"),
		Status:   strArg(args, "status"),
	}
	report, err := t.engine.Report(ctx, rc.Namespace, filter, strArg(args, "group_by"), boolArg(args, "include_history"))
	if err != nil {
		return nil, nil, err
	}
	return report, nil, nil
}

func (t *TrackProgressTool) setMilestone(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	raw, ok := args["milestone"].(map[string]interface{})
	if !ok {
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "milestone object is required for set_milestone")
	}
	target, err := time.Parse(time.RFC3339, strArg(raw, "target_date"))
	if err != nil {
		return nil, nil, jiveerr.Wrap(jiveerr.CodeValidation, err, "target_date must be RFC3339")
	}
	m := &models.Milestone{
		Title:         strArg(raw, "title"),
		Description:   strArg(raw, "description"),
		MilestoneType: strArg(raw, "milestone_type"),
		TargetDate:    target.UTC(),
		Priority:      strArg(raw, "priority"),
	}
	if ids, ok := strSliceArg(raw, "associated_work_item_ids"); ok {
		for _, s := range ids {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, nil, jiveerr.New(jiveerr.CodeValidation, "associated work item id %q is not a UUID", s)
			}
			m.AssociatedWorkItemIDs = append(m.AssociatedWorkItemIDs, id)
		}
	}
	if criteria, ok := strSliceArg(raw, "success_criteria"); ok {
		m.SuccessCriteria = criteria
	}
	status, err := t.engine.SetMilestone(ctx, rc.Namespace, m)
	if err != nil {
		return nil, nil, err
	}
	return status, nil, nil
}
