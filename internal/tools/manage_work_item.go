package tools

import (
	"context"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// ManageWorkItemTool creates, updates and deletes work items.
type ManageWorkItemTool struct {
	repo *repository.WorkItemRepository
}

// NewManageWorkItemTool wires the tool to the work-item repository.
func NewManageWorkItemTool(repo *repository.WorkItemRepository) *ManageWorkItemTool {
	return &ManageWorkItemTool{repo: repo}
}

func (t *ManageWorkItemTool) Name() string { return "jive_manage_work_item" }

func (t *ManageWorkItemTool) Description() string {
	return "Create, update or delete a work item (initiative, epic, feature, story or task)."
}

func (t *ManageWorkItemTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["create", "update", "delete"]},
    "namespace": {"type": "string"},
    "work_item_id": {"type": "string"},
    "type": {"type": "string", "enum": ["initiative", "epic", "feature", "story", "task"]},
    "title": {"type": "string", "maxLength": 200},
    "description": {"type": "string", "maxLength": 10000},
    "status": {"type": "string", "enum": ["not_started", "in_progress", "completed", "blocked", "cancelled"]},
    "priority": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
    "complexity": {"type": "string", "enum": ["trivial", "simple", "moderate", "complex", "very_complex"]},
    "parent_id": {"type": ["string", "null"]},
    "order_index": {"type": "integer"},
    "progress_percentage": {"type": "number", "minimum": 0, "maximum": 100},
    "context_tags": {"type": "array", "items": {"type": "string"}},
    "acceptance_criteria": {"type": "array", "items": {"type": "string"}},
    "effort_estimate": {"type": "number", "minimum": 0},
    "tags": {"type": "array", "items": {"type": "string"}},
    "assignee": {"type": "string"},
    "delete_mode": {"type": "string", "enum": ["reparent_children", "delete_descendants"]}
  }
}`
}

func (t *ManageWorkItemTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	switch strArg(args, "action") {
	case "create":
		return t.create(ctx, rc, args)
	case "update":
		return t.update(ctx, rc, args)
	case "delete":
		return t.delete(ctx, rc, args)
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeInvalidAction, "unknown action %q", strArg(args, "action"))
	}
}

func (t *ManageWorkItemTool) create(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	item := &models.WorkItem{
		ItemType:    strArg(args, "type"),
		Title:       strArg(args, "title"),
		Description: strArg(args, "description"),
		Status:      strArg(args, "status"),
		Priority:    strArg(args, "priority"),
		Complexity:  strArg(args, "complexity"),
		Assignee:    strArg(args, "assignee"),
	}
	if item.ItemType == "" {
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "type is required for create")
	}
	parentID, err := optionalUUIDArg(args, "parent_id")
	if err != nil {
		return nil, nil, err
	}
	item.ParentID = parentID
	if tags, ok := strSliceArg(args, "tags"); ok {
		item.Tags = tags
	}
	if tags, ok := strSliceArg(args, "context_tags"); ok {
		item.ContextTags = tags
	}
	if criteria, ok := strSliceArg(args, "acceptance_criteria"); ok {
		item.AcceptanceCriteria = criteria
	}
	if effort, ok := floatArg(args, "effort_estimate"); ok {
		item.EffortEstimate = &effort
	}

	created, warnings, err := t.repo.Create(ctx, rc.Namespace, item)
	if err != nil {
		return nil, nil, err
	}
	return created, warnings, nil
}

func (t *ManageWorkItemTool) update(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	id, err := uuidArg(args, "work_item_id")
	if err != nil {
		return nil, nil, err
	}

	patch := repository.WorkItemPatch{}
	if v, ok := args["title"].(string); ok {
		patch.Title = &v
	}
	if v, ok := args["description"].(string); ok {
		patch.Description = &v
	}
	if v, ok := args["status"].(string); ok {
		patch.Status = &v
	}
	if v, ok := args["priority"].(string); ok {
		patch.Priority = &v
	}
	if v, ok := args["complexity"].(string); ok {
		patch.Complexity = &v
	}
	if v, ok := args["assignee"].(string); ok {
		patch.Assignee = &v
	}
	if _, present := args["parent_id"]; present {
		parentID, err := optionalUUIDArg(args, "parent_id")
		if err != nil {
			return nil, nil, err
		}
		patch.ParentID = parentID
		patch.ParentSet = true
	}
	if _, ok := args["order_index"]; ok {
		v := intArg(args, "order_index")
		patch.OrderIndex = &v
	}
	if v, ok := floatArg(args, "progress_percentage"); ok {
		patch.ProgressPercentage = &v
	}
	if tags, ok := strSliceArg(args, "tags"); ok {
		patch.Tags = tags
		patch.TagsSet = true
	}
	if tags, ok := strSliceArg(args, "context_tags"); ok {
		patch.ContextTags = tags
		patch.ContextTagsSet = true
	}
	if criteria, ok := strSliceArg(args, "acceptance_criteria"); ok {
		patch.AcceptanceCriteria = criteria
		patch.AcceptanceSet = true
	}
	if effort, ok := floatArg(args, "effort_estimate"); ok {
		patch.EffortEstimate = &effort
	}

	updated, warnings, err := t.repo.Update(ctx, rc.Namespace, id, patch)
	if err != nil {
		return nil, nil, err
	}
	return updated, warnings, nil
}

func (t *ManageWorkItemTool) delete(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	id, err := uuidArg(args, "work_item_id")
	if err != nil {
		return nil, nil, err
	}
	mode := strArg(args, "delete_mode")
	if err := t.repo.Delete(ctx, rc.Namespace, id, mode); err != nil {
		return nil, nil, err
	}
	return map[string]interface{}{"deleted": true, "work_item_id": id.String()}, nil, nil
}
