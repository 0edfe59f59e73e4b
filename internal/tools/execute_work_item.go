package tools

import (
	"context"

	"github.com/vuxtra/mcp-jive/internal/execution"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
)

// ExecuteWorkItemTool starts, inspects and cancels work item executions.
type ExecuteWorkItemTool struct {
	manager *execution.Manager
}

// NewExecuteWorkItemTool wires the tool to the execution manager.
func NewExecuteWorkItemTool(manager *execution.Manager) *ExecuteWorkItemTool {
	return &ExecuteWorkItemTool{manager: manager}
}

func (t *ExecuteWorkItemTool) Name() string { return "jive_execute_work_item" }

func (t *ExecuteWorkItemTool) Description() string {
	return "Start, inspect, cancel or pre-validate the execution of a work item."
}

func (t *ExecuteWorkItemTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["execute", "status", "cancel", "validate"]},
    "namespace": {"type": "string"},
    "work_item_id": {"type": "string"},
    "execution_id": {"type": "string"},
    "notes": {"type": "string"},
    "reason": {"type": "string"},
    "include_history": {"type": "boolean", "default": false}
  }
}`
}

func (t *ExecuteWorkItemTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	switch strArg(args, "action") {
	case "execute":
		id, err := uuidArg(args, "work_item_id")
		if err != nil {
			return nil, nil, err
		}
		log, err := t.manager.Execute(ctx, rc.Namespace, id, strArg(args, "notes"))
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"execution": log, "execution_id": log.ID.String()}, nil, nil

	case "status":
		id, err := uuidArg(args, "execution_id")
		if err != nil {
			return nil, nil, err
		}
		log, err := t.manager.Status(ctx, rc.Namespace, id)
		if err != nil {
			return nil, nil, err
		}
		out := map[string]interface{}{"execution": log}
		if boolArg(args, "include_history") {
			history, err := t.manager.History(ctx, rc.Namespace, log.WorkItemID, 20)
			if err != nil {
				return nil, nil, err
			}
			out["history"] = history
		}
		return out, nil, nil

	case "cancel":
		id, err := uuidArg(args, "execution_id")
		if err != nil {
			return nil, nil, err
		}
		log, err := t.manager.Cancel(ctx, rc.Namespace, id, strArg(args, "reason"))
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"execution": log, "cancelled_at": log.EndedAt}, nil, nil

	case "validate":
		id, err := uuidArg(args, "work_item_id")
		if err != nil {
			return nil, nil, err
		}
		readiness, err := t.manager.Validate(ctx, rc.Namespace, id)
		if err != nil {
			return nil, nil, err
		}
		return readiness, nil, nil

	default:
		return nil, nil, jiveerr.New(jiveerr.CodeInvalidAction, "unknown action %q", strArg(args, "action"))
	}
}
