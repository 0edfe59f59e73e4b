package tools

import (
	"context"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
)

// HierarchyTool exposes hierarchy traversal and dependency-graph mutation.
type HierarchyTool struct {
	repo *repository.WorkItemRepository
}

// NewHierarchyTool wires the tool to the work-item repository.
func NewHierarchyTool(repo *repository.WorkItemRepository) *HierarchyTool {
	return &HierarchyTool{repo: repo}
}

func (t *HierarchyTool) Name() string { return "jive_get_hierarchy" }

func (t *HierarchyTool) Description() string {
	return "Traverse work item hierarchy and manage the dependency graph."
}

func (t *HierarchyTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["get", "add_dependency", "remove_dependency", "validate"]},
    "namespace": {"type": "string"},
    "work_item_id": {"type": "string"},
    "relationship_type": {"type": "string", "enum": ["children", "parents", "dependencies", "dependents", "full_hierarchy", "ancestors", "descendants"]},
    "max_depth": {"type": "integer", "minimum": 1, "maximum": 32},
    "transitive": {"type": "boolean", "default": false},
    "source_id": {"type": "string"},
    "target_id": {"type": "string"},
    "dependency_type": {"type": "string", "enum": ["blocks", "blocked_by", "related", "subtask_of"], "default": "blocks"},
    "scope": {"type": "string", "enum": ["subtree", "namespace"], "default": "namespace"}
  }
}`
}

func (t *HierarchyTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	switch strArg(args, "action") {
	case "get":
		return t.get(ctx, rc, args)
	case "add_dependency":
		return t.addDependency(ctx, rc, args)
	case "remove_dependency":
		return t.removeDependency(ctx, rc, args)
	case "validate":
		return t.validate(ctx, rc, args)
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeInvalidAction, "unknown action %q", strArg(args, "action"))
	}
}

func (t *HierarchyTool) get(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	id, err := uuidArg(args, "work_item_id")
	if err != nil {
		return nil, nil, err
	}
	rel := strArg(args, "relationship_type")
	maxDepth := intArg(args, "max_depth")
	transitive := boolArg(args, "transitive")

	switch rel {
	case "children":
		nodes, err := t.repo.GetChildren(ctx, rc.Namespace, id, false, 1)
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"children": nodes}, nil, nil
	case "descendants", "full_hierarchy":
		nodes, err := t.repo.GetChildren(ctx, rc.Namespace, id, true, maxDepth)
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"children": nodes}, nil, nil
	case "parents", "ancestors":
		chain, err := t.repo.GetAncestors(ctx, rc.Namespace, id)
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"ancestors": chain}, nil, nil
	case "dependencies":
		set, err := t.repo.GetDependencies(ctx, rc.Namespace, id, "in", transitive)
		if err != nil {
			return nil, nil, err
		}
		return set, nil, nil
	case "dependents":
		set, err := t.repo.GetDependencies(ctx, rc.Namespace, id, "out", transitive)
		if err != nil {
			return nil, nil, err
		}
		return set, nil, nil
	case "":
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "relationship_type is required for get")
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "unknown relationship_type %q", rel)
	}
}

func (t *HierarchyTool) addDependency(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	source, err := uuidArg(args, "source_id")
	if err != nil {
		return nil, nil, err
	}
	target, err := uuidArg(args, "target_id")
	if err != nil {
		return nil, nil, err
	}
	depType := strArg(args, "dependency_type")
	if depType == "" {
		depType = "blocks"
	}
	edge, err := t.repo.AddDependency(ctx, rc.Namespace, source, target, depType)
	if err != nil {
		return nil, nil, err
	}
	return edge, nil, nil
}

func (t *HierarchyTool) removeDependency(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	source, err := uuidArg(args, "source_id")
	if err != nil {
		return nil, nil, err
	}
	target, err := uuidArg(args, "target_id")
	if err != nil {
		return nil, nil, err
	}
	if err := t.repo.RemoveDependency(ctx, rc.Namespace, source, target, strArg(args, "dependency_type")); err != nil {
		return nil, nil, err
	}
	return map[string]interface{}{"removed": true}, nil, nil
}

func (t *HierarchyTool) validate(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	scope := strArg(args, "scope")
	rootID, err := optionalUUIDArg(args, "work_item_id")
	if err != nil {
		return nil, nil, err
	}
	if scope == "subtree" && rootID == nil {
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "work_item_id is required for subtree scope")
	}
	violations, err := t.repo.ValidateGraph(ctx, rc.Namespace, scope, rootID)
	if err != nil {
		return nil, nil, err
	}
	return map[string]interface{}{
		"valid":      len(violations) == 0,
		"violations": violations,
	}, nil, nil
}
