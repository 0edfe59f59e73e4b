package tools

import (
	"context"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// GetWorkItemTool resolves a flexible identifier to one work item in one of
// three detail formats.
type GetWorkItemTool struct {
	repo *repository.WorkItemRepository
}

// NewGetWorkItemTool wires the tool to the work-item repository.
func NewGetWorkItemTool(repo *repository.WorkItemRepository) *GetWorkItemTool {
	return &GetWorkItemTool{repo: repo}
}

func (t *GetWorkItemTool) Name() string { return "jive_get_work_item" }

func (t *GetWorkItemTool) Description() string {
	return "Fetch a work item by UUID, exact title or semantic match."
}

func (t *GetWorkItemTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["work_item_id"],
  "properties": {
    "work_item_id": {"type": "string", "minLength": 1, "description": "UUID, exact title or free-text identifier"},
    "namespace": {"type": "string"},
    "format": {"type": "string", "enum": ["detailed", "summary", "minimal"], "default": "detailed"},
    "include_children": {"type": "boolean", "default": false},
    "include_dependencies": {"type": "boolean", "default": false}
  }
}`
}

func (t *GetWorkItemTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	item, err := t.repo.Get(ctx, rc.Namespace, strArg(args, "work_item_id"))
	if err != nil {
		return nil, nil, err
	}

	format := strArg(args, "format")
	if format == "" {
		format = "detailed"
	}

	switch format {
	case "minimal":
		return map[string]interface{}{
			"id":     item.ID.String(),
			"title":  item.Title,
			"type":   item.ItemType,
			"status": item.Status,
		}, nil, nil
	case "summary":
		return map[string]interface{}{
			"id":                  item.ID.String(),
			"title":               item.Title,
			"type":                item.ItemType,
			"status":              item.Status,
			"priority":            item.Priority,
			"progress_percentage": item.ProgressPercentage,
			"parent_id":           item.ParentID,
			"assignee":            item.Assignee,
			"updated_at":          item.UpdatedAt,
		}, nil, nil
	case "detailed":
		out := map[string]interface{}{"item": item}
		if boolArg(args, "include_children") {
			children, err := t.repo.GetChildren(ctx, rc.Namespace, item.ID, false, 1)
			if err != nil {
				return nil, nil, err
			}
			flat := make([]models.WorkItem, len(children))
			for i, node := range children {
				flat[i] = node.Item
			}
			out["children"] = flat
		}
		if boolArg(args, "include_dependencies") {
			deps, err := t.repo.GetDependencies(ctx, rc.Namespace, item.ID, "both", false)
			if err != nil {
				return nil, nil, err
			}
			out["dependencies"] = deps
		}
		return out, nil, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "unknown format %q", format)
	}
}
