package tools

import (
	"context"

	"github.com/google/uuid"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// MemoryTool manages the architecture and troubleshoot knowledge stores.
type MemoryTool struct {
	repo *repository.MemoryRepository
}

// NewMemoryTool wires the tool to the memory repository.
func NewMemoryTool(repo *repository.MemoryRepository) *MemoryTool {
	return &MemoryTool{repo: repo}
}

func (t *MemoryTool) Name() string { return "jive_memory" }

func (t *MemoryTool) Description() string {
	return "Store, search and retrieve architecture and troubleshooting knowledge."
}

func (t *MemoryTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["action"],
  "properties": {
    "action": {"type": "string", "enum": ["create", "update", "delete", "get", "list", "search", "get_context", "match_problem", "report_success", "export", "import", "export_batch", "import_batch"]},
    "namespace": {"type": "string"},
    "memory_type": {"type": "string", "enum": ["architecture", "troubleshoot"]},
    "slug": {"type": "string", "pattern": "^[a-z0-9-]+$"},
    "title": {"type": "string"},
    "ai_when_to_use": {"type": "array", "items": {"type": "string"}},
    "ai_requirements": {"type": "string"},
    "ai_use_case": {"type": "string"},
    "ai_solutions": {"type": "string"},
    "children_slugs": {"type": "array", "items": {"type": "string"}},
    "related_slugs": {"type": "array", "items": {"type": "string"}},
    "linked_epic_ids": {"type": "array", "items": {"type": "string"}},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "tags": {"type": "array", "items": {"type": "string"}},
    "query": {"type": "string"},
    "search_type": {"type": "string", "enum": ["semantic", "keyword", "hybrid"], "default": "hybrid"},
    "problem_description": {"type": "string"},
    "token_budget": {"type": "integer", "minimum": 100, "maximum": 100000},
    "limit": {"type": "integer", "minimum": 1, "maximum": 1000},
    "offset": {"type": "integer", "minimum": 0},
    "content": {"type": "string"},
    "contents": {"type": "array", "items": {"type": "string"}},
    "import_mode": {"type": "string", "enum": ["merge", "skip_existing"], "default": "merge"}
  }
}`
}

func (t *MemoryTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	memoryType := strArg(args, "memory_type")
	switch strArg(args, "action") {
	case "create":
		return t.create(ctx, rc, memoryType, args)
	case "update":
		return t.update(ctx, rc, memoryType, args)
	case "delete":
		return t.delete(ctx, rc, memoryType, args)
	case "get":
		return t.get(ctx, rc, memoryType, args)
	case "list":
		return t.list(ctx, rc, memoryType, args)
	case "search":
		return t.search(ctx, rc, memoryType, args)
	case "get_context":
		doc, err := t.repo.GetContext(ctx, rc.Namespace, strArg(args, "slug"), intArg(args, "token_budget"))
		if err != nil {
			return nil, nil, err
		}
		return doc, nil, nil
	case "match_problem":
		matches, warning, err := t.repo.MatchProblem(ctx, rc.Namespace, strArg(args, "problem_description"), intArg(args, "limit"))
		if err != nil {
			return nil, nil, err
		}
		var warnings []string
		if warning != "" {
			warnings = append(warnings, warning)
		}
		return map[string]interface{}{"matches": matches}, warnings, nil
	case "report_success":
		item, err := t.repo.ReportSuccess(ctx, rc.Namespace, strArg(args, "slug"))
		if err != nil {
			return nil, nil, err
		}
		return item, nil, nil
	case "export":
		return t.export(ctx, rc, memoryType, args)
	case "import":
		result, err := t.repo.Import(ctx, rc.Namespace, strArg(args, "content"), strArg(args, "import_mode"))
		if err != nil {
			return nil, nil, err
		}
		return result, result.Warnings, nil
	case "export_batch":
		docs, err := t.repo.ExportBatch(ctx, rc.Namespace, memoryType)
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"documents": docs, "count": len(docs)}, nil, nil
	case "import_batch":
		contents, _ := strSliceArg(args, "contents")
		if len(contents) == 0 {
			return nil, nil, jiveerr.New(jiveerr.CodeValidation, "contents must not be empty")
		}
		results, err := t.repo.ImportBatch(ctx, rc.Namespace, contents, strArg(args, "import_mode"))
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"results": results}, nil, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeInvalidAction, "unknown action %q", strArg(args, "action"))
	}
}

func (t *MemoryTool) create(ctx context.Context, rc RequestContext, memoryType string, args map[string]interface{}) (interface{}, []string, error) {
	switch memoryType {
	case repository.MemoryArchitecture:
		item := &models.ArchitectureItem{
			UniqueSlug:     strArg(args, "slug"),
			Title:          strArg(args, "title"),
			AIRequirements: strArg(args, "ai_requirements"),
		}
		if v, ok := strSliceArg(args, "ai_when_to_use"); ok {
			item.AIWhenToUse = v
		}
		if v, ok := strSliceArg(args, "children_slugs"); ok {
			item.ChildrenSlugs = v
		}
		if v, ok := strSliceArg(args, "related_slugs"); ok {
			item.RelatedSlugs = v
		}
		if ids, err := parseEpicIDs(args); err != nil {
			return nil, nil, err
		} else if ids != nil {
			item.LinkedEpicIDs = ids
		}
		if v, ok := strSliceArg(args, "keywords"); ok {
			item.Keywords = v
		}
		if v, ok := strSliceArg(args, "tags"); ok {
			item.Tags = v
		}
		created, err := t.repo.CreateArchitecture(ctx, rc.Namespace, item)
		if err != nil {
			return nil, nil, err
		}
		return created, nil, nil
	case repository.MemoryTroubleshoot:
		item := &models.TroubleshootItem{
			UniqueSlug:  strArg(args, "slug"),
			Title:       strArg(args, "title"),
			AIUseCase:   strArg(args, "ai_use_case"),
			AISolutions: strArg(args, "ai_solutions"),
		}
		if v, ok := strSliceArg(args, "keywords"); ok {
			item.Keywords = v
		}
		if v, ok := strSliceArg(args, "tags"); ok {
			item.Tags = v
		}
		created, err := t.repo.CreateTroubleshoot(ctx, rc.Namespace, item)
		if err != nil {
			return nil, nil, err
		}
		return created, nil, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "memory_type is required")
	}
}

func (t *MemoryTool) update(ctx context.Context, rc RequestContext, memoryType string, args map[string]interface{}) (interface{}, []string, error) {
	slug := strArg(args, "slug")
	switch memoryType {
	case repository.MemoryArchitecture:
		patch := &models.ArchitectureItem{
			Title:          strArg(args, "title"),
			AIRequirements: strArg(args, "ai_requirements"),
		}
		if v, ok := strSliceArg(args, "ai_when_to_use"); ok {
			patch.AIWhenToUse = v
		}
		if v, ok := strSliceArg(args, "children_slugs"); ok {
			patch.ChildrenSlugs = v
		}
		if v, ok := strSliceArg(args, "related_slugs"); ok {
			patch.RelatedSlugs = v
		}
		if ids, err := parseEpicIDs(args); err != nil {
			return nil, nil, err
		} else if ids != nil {
			patch.LinkedEpicIDs = ids
		}
		if v, ok := strSliceArg(args, "keywords"); ok {
			patch.Keywords = v
		}
		if v, ok := strSliceArg(args, "tags"); ok {
			patch.Tags = v
		}
		updated, err := t.repo.UpdateArchitecture(ctx, rc.Namespace, slug, patch)
		if err != nil {
			return nil, nil, err
		}
		return updated, nil, nil
	case repository.MemoryTroubleshoot:
		patch := &models.TroubleshootItem{
			Title:       strArg(args, "title"),
			AIUseCase:   strArg(args, "ai_use_case"),
			AISolutions: strArg(args, "ai_solutions"),
		}
		if v, ok := strSliceArg(args, "keywords"); ok {
			patch.Keywords = v
		}
		if v, ok := strSliceArg(args, "tags"); ok {
			patch.Tags = v
		}
		updated, err := t.repo.UpdateTroubleshoot(ctx, rc.Namespace, slug, patch)
		if err != nil {
			return nil, nil, err
		}
		return updated, nil, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "memory_type is required")
	}
}

func (t *MemoryTool) delete(ctx context.Context, rc RequestContext, memoryType string, args map[string]interface{}) (interface{}, []string, error) {
	slug := strArg(args, "slug")
	var err error
	switch memoryType {
	case repository.MemoryArchitecture:
		err = t.repo.DeleteArchitecture(ctx, rc.Namespace, slug)
	case repository.MemoryTroubleshoot:
		err = t.repo.DeleteTroubleshoot(ctx, rc.Namespace, slug)
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "memory_type is required")
	}
	if err != nil {
		return nil, nil, err
	}
	return map[string]interface{}{"deleted": true, "slug": slug}, nil, nil
}

func (t *MemoryTool) get(ctx context.Context, rc RequestContext, memoryType string, args map[string]interface{}) (interface{}, []string, error) {
	slug := strArg(args, "slug")
	switch memoryType {
	case repository.MemoryArchitecture:
		item, err := t.repo.GetArchitecture(ctx, rc.Namespace, slug)
		if err != nil {
			return nil, nil, err
		}
		return item, nil, nil
	case repository.MemoryTroubleshoot:
		item, err := t.repo.GetTroubleshoot(ctx, rc.Namespace, slug)
		if err != nil {
			return nil, nil, err
		}
		return item, nil, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "memory_type is required")
	}
}

func (t *MemoryTool) list(ctx context.Context, rc RequestContext, memoryType string, args map[string]interface{}) (interface{}, []string, error) {
	limit := intArg(args, "limit")
	offset := intArg(args, "offset")
	var warnings []string
	switch memoryType {
	case repository.MemoryArchitecture:
		items, warning, err := t.repo.ListArchitecture(ctx, rc.Namespace, limit, offset)
		if err != nil {
			return nil, nil, err
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
		return map[string]interface{}{"items": items, "count": len(items)}, warnings, nil
	case repository.MemoryTroubleshoot:
		items, warning, err := t.repo.ListTroubleshoot(ctx, rc.Namespace, limit, offset)
		if err != nil {
			return nil, nil, err
		}
		if warning != "" {
			warnings = append(warnings, warning)
		}
		return map[string]interface{}{"items": items, "count": len(items)}, warnings, nil
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "memory_type is required")
	}
}

func (t *MemoryTool) search(ctx context.Context, rc RequestContext, memoryType string, args map[string]interface{}) (interface{}, []string, error) {
	limit, warning, err := search.ClampLimit(intArg(args, "limit"))
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	if warning != "" {
		warnings = append(warnings, warning)
	}
	results, err := t.repo.Search(ctx, rc.Namespace, memoryType, strArg(args, "query"), search.Options{
		Mode:  search.Mode(strArg(args, "search_type")),
		Limit: limit,
	})
	if err != nil {
		return nil, nil, err
	}
	hits := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		hits = append(hits, map[string]interface{}{
			"item":  r.Doc.Row,
			"score": r.Score,
		})
	}
	return map[string]interface{}{"results": hits, "total": len(hits)}, warnings, nil
}

func (t *MemoryTool) export(ctx context.Context, rc RequestContext, memoryType string, args map[string]interface{}) (interface{}, []string, error) {
	slug := strArg(args, "slug")
	var (
		md  string
		err error
	)
	switch memoryType {
	case repository.MemoryArchitecture:
		md, err = t.repo.ExportArchitecture(ctx, rc.Namespace, slug)
	case repository.MemoryTroubleshoot:
		md, err = t.repo.ExportTroubleshoot(ctx, rc.Namespace, slug)
	default:
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "memory_type is required")
	}
	if err != nil {
		return nil, nil, err
	}
	return map[string]interface{}{"slug": slug, "markdown": md}, nil, nil
}

func parseEpicIDs(args map[string]interface{}) ([]uuid.UUID, error) {
	raw, ok := strSliceArg(args, "linked_epic_ids")
	if !ok {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, jiveerr.New(jiveerr.CodeValidation, "linked epic id %q is not a UUID", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
