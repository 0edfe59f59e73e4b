package tools

import (
	"context"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/syncdata"
)

// SyncDataTool moves work-item state between the store and JSON files.
type SyncDataTool struct {
	service *syncdata.Service
}

// NewSyncDataTool wires the tool to the sync service.
func NewSyncDataTool(service *syncdata.Service) *SyncDataTool {
	return &SyncDataTool{service: service}
}

func (t *SyncDataTool) Name() string { return "jive_sync_data" }

func (t *SyncDataTool) Description() string {
	return "Synchronize, back up, restore and validate work item data against files."
}

func (t *SyncDataTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["sync", "status", "backup", "restore", "validate"]},
    "namespace": {"type": "string"},
    "sync_direction": {"type": "string", "enum": ["file_to_db", "db_to_file", "bidirectional"], "default": "bidirectional"},
    "backup_name": {"type": "string"}
  }
}`
}

func (t *SyncDataTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	switch strArg(args, "action") {
	case "sync":
		direction := strArg(args, "sync_direction")
		if direction == "" {
			direction = syncdata.Bidirectional
		}
		result, err := t.service.Sync(ctx, rc.Namespace, direction)
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	case "status":
		status, err := t.service.GetStatus(ctx, rc.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return status, nil, nil
	case "backup":
		name, err := t.service.Backup(ctx, rc.Namespace)
		if err != nil {
			return nil, nil, err
		}
		backups, err := t.service.Backups()
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"backup_name": name, "backups": backups}, nil, nil
	case "restore":
		result, err := t.service.Restore(ctx, rc.Namespace, strArg(args, "backup_name"))
		if err != nil {
			return nil, nil, err
		}
		return result, nil, nil
	case "validate":
		diff, err := t.service.Validate(ctx, rc.Namespace)
		if err != nil {
			return nil, nil, err
		}
		return diff, nil, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeInvalidAction, "unknown action %q", strArg(args, "action"))
	}
}
