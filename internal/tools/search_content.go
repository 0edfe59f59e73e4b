package tools

import (
	"context"

	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/search"
)

// SearchContentTool runs hybrid, semantic or keyword search over work items.
type SearchContentTool struct {
	repo   *repository.WorkItemRepository
	engine *search.Engine
}

// NewSearchContentTool wires the tool to the repository and search engine.
func NewSearchContentTool(repo *repository.WorkItemRepository, engine *search.Engine) *SearchContentTool {
	return &SearchContentTool{repo: repo, engine: engine}
}

func (t *SearchContentTool) Name() string { return "jive_search_content" }

func (t *SearchContentTool) Description() string {
	return "Search work items by meaning, keywords or both."
}

func (t *SearchContentTool) Schema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["query"],
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "namespace": {"type": "string"},
    "search_type": {"type": "string", "enum": ["semantic", "keyword", "hybrid"], "default": "hybrid"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 1000, "default": 10},
    "similarity_threshold": {"type": "number", "minimum": 0, "maximum": 1},
    "include_score": {"type": "boolean", "default": false}
  }
}`
}

func (t *SearchContentTool) Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error) {
	limit, warning, err := search.ClampLimit(intArg(args, "limit"))
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	if warning != "" {
		warnings = append(warnings, warning)
	}

	opts := search.Options{
		Mode:  search.Mode(strArg(args, "search_type")),
		Limit: limit,
	}
	if threshold, ok := floatArg(args, "similarity_threshold"); ok {
		opts.SimilarityThreshold = threshold
	}

	results, err := t.engine.Search(ctx, t.repo.WorkItemSource(rc.Namespace), strArg(args, "query"), opts)
	if err != nil {
		return nil, nil, err
	}

	includeScore := boolArg(args, "include_score")
	hits := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		hit := map[string]interface{}{"item": r.Doc.Row}
		if includeScore {
			hit["score"] = r.Score
			hit["semantic_score"] = r.SemanticScore
			hit["keyword_score"] = r.KeywordScore
		}
		hits = append(hits, hit)
	}
	return map[string]interface{}{"results": hits, "total": len(hits)}, warnings, nil
}
