package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// Import modes
const (
	ImportMerge        = "merge"
	ImportSkipExisting = "skip_existing"
)

// frontMatter is the YAML header of an exported memory document. Optional
// fields default on import; unknown fields are ignored with a warning.
type frontMatter struct {
	Slug          string   `yaml:"slug"`
	Title         string   `yaml:"title"`
	MemoryType    string   `yaml:"memory_type"`
	Keywords      []string `yaml:"keywords,omitempty"`
	Tags          []string `yaml:"tags,omitempty"`
	AIWhenToUse   []string `yaml:"ai_when_to_use,omitempty"`
	ChildrenSlugs []string `yaml:"children_slugs,omitempty"`
	RelatedSlugs  []string `yaml:"related_slugs,omitempty"`
	LinkedEpicIDs []string `yaml:"linked_epic_ids,omitempty"`
	UsageCount    *int     `yaml:"usage_count,omitempty"`
	SuccessCount  *int     `yaml:"success_count,omitempty"`
	AIUseCase     string   `yaml:"ai_use_case,omitempty"`
	CreatedAt     string   `yaml:"created_at,omitempty"`
	UpdatedAt     string   `yaml:"updated_at,omitempty"`
}

// ExportArchitecture renders an architecture item as markdown with YAML
// front-matter; the body is ai_requirements.
func (r *MemoryRepository) ExportArchitecture(ctx context.Context, ns, slug string) (string, error) {
	item, err := r.GetArchitecture(ctx, ns, slug)
	if err != nil {
		return "", err
	}
	epicIDs := make([]string, len(item.LinkedEpicIDs))
	for i, id := range item.LinkedEpicIDs {
		epicIDs[i] = id.String()
	}
	fm := frontMatter{
		Slug:          item.UniqueSlug,
		Title:         item.Title,
		MemoryType:    MemoryArchitecture,
		Keywords:      item.Keywords,
		Tags:          item.Tags,
		AIWhenToUse:   item.AIWhenToUse,
		ChildrenSlugs: item.ChildrenSlugs,
		RelatedSlugs:  item.RelatedSlugs,
		LinkedEpicIDs: epicIDs,
		CreatedAt:     item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	return renderMarkdown(fm, item.AIRequirements)
}

// ExportTroubleshoot renders a troubleshoot item as markdown; the body is
// ai_solutions and ai_use_case travels in the front-matter.
func (r *MemoryRepository) ExportTroubleshoot(ctx context.Context, ns, slug string) (string, error) {
	item, err := r.GetTroubleshoot(ctx, ns, slug)
	if err != nil {
		return "", err
	}
	fm := frontMatter{
		Slug:         item.UniqueSlug,
		Title:        item.Title,
		MemoryType:   MemoryTroubleshoot,
		Keywords:     item.Keywords,
		Tags:         item.Tags,
		UsageCount:   &item.UsageCount,
		SuccessCount: &item.SuccessCount,
		AIUseCase:    item.AIUseCase,
		CreatedAt:    item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	return renderMarkdown(fm, item.AISolutions)
}

// ImportResult reports what one import did.
type ImportResult struct {
	Slug     string   `json:"slug"`
	Action   string   `json:"action"` // created, updated, skipped
	Warnings []string `json:"warnings,omitempty"`
}

// Import parses an exported markdown document and upserts the item. Mode
// merge overwrites an existing slug; skip_existing leaves it untouched.
func (r *MemoryRepository) Import(ctx context.Context, ns, content, mode string) (*ImportResult, error) {
	if mode == "" {
		mode = ImportMerge
	}
	if mode != ImportMerge && mode != ImportSkipExisting {
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid import mode %q", mode)
	}

	fm, body, warnings, err := parseMarkdown(content)
	if err != nil {
		return nil, err
	}
	if err := validateSlug(fm.Slug); err != nil {
		return nil, err
	}

	switch fm.MemoryType {
	case MemoryArchitecture:
		return r.importArchitecture(ctx, ns, fm, body, mode, warnings)
	case MemoryTroubleshoot:
		return r.importTroubleshoot(ctx, ns, fm, body, mode, warnings)
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "front-matter memory_type must be architecture or troubleshoot")
	}
}

func (r *MemoryRepository) importArchitecture(ctx context.Context, ns string, fm *frontMatter, body, mode string, warnings []string) (*ImportResult, error) {
	epicIDs := make([]uuid.UUID, 0, len(fm.LinkedEpicIDs))
	for _, raw := range fm.LinkedEpicIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipping invalid linked_epic_id %q", raw))
			continue
		}
		epicIDs = append(epicIDs, id)
	}

	item := &models.ArchitectureItem{
		UniqueSlug:     fm.Slug,
		Title:          fm.Title,
		AIWhenToUse:    fm.AIWhenToUse,
		AIRequirements: body,
		ChildrenSlugs:  fm.ChildrenSlugs,
		RelatedSlugs:   fm.RelatedSlugs,
		LinkedEpicIDs:  epicIDs,
		Keywords:       fm.Keywords,
		Tags:           fm.Tags,
	}

	existing, _ := r.GetArchitecture(ctx, ns, fm.Slug)
	if existing != nil {
		if mode == ImportSkipExisting {
			return &ImportResult{Slug: fm.Slug, Action: "skipped", Warnings: warnings}, nil
		}
		normalizeArchLists(item)
		if _, err := r.UpdateArchitecture(ctx, ns, fm.Slug, item); err != nil {
			return nil, err
		}
		return &ImportResult{Slug: fm.Slug, Action: "updated", Warnings: warnings}, nil
	}
	if _, err := r.CreateArchitecture(ctx, ns, item); err != nil {
		return nil, err
	}
	return &ImportResult{Slug: fm.Slug, Action: "created", Warnings: warnings}, nil
}

func (r *MemoryRepository) importTroubleshoot(ctx context.Context, ns string, fm *frontMatter, body, mode string, warnings []string) (*ImportResult, error) {
	item := &models.TroubleshootItem{
		UniqueSlug:  fm.Slug,
		Title:       fm.Title,
		AIUseCase:   fm.AIUseCase,
		AISolutions: body,
		Keywords:    fm.Keywords,
		Tags:        fm.Tags,
	}
	if fm.UsageCount != nil {
		item.UsageCount = *fm.UsageCount
	}
	if fm.SuccessCount != nil {
		item.SuccessCount = *fm.SuccessCount
	}

	existing, _ := r.GetTroubleshoot(ctx, ns, fm.Slug)
	if existing != nil {
		if mode == ImportSkipExisting {
			return &ImportResult{Slug: fm.Slug, Action: "skipped", Warnings: warnings}, nil
		}
		updated, err := r.UpdateTroubleshoot(ctx, ns, fm.Slug, item)
		if err != nil {
			return nil, err
		}
		// counters come from the document verbatim on merge
		if fm.UsageCount != nil {
			updated.UsageCount = *fm.UsageCount
		}
		if fm.SuccessCount != nil {
			updated.SuccessCount = *fm.SuccessCount
		}
		updated.UpdatedAt = time.Now().UTC()
		if err := r.store.Upsert(ctx, updated); err != nil {
			return nil, mapStoreErr(err)
		}
		return &ImportResult{Slug: fm.Slug, Action: "updated", Warnings: warnings}, nil
	}
	if _, err := r.CreateTroubleshoot(ctx, ns, item); err != nil {
		return nil, err
	}
	return &ImportResult{Slug: fm.Slug, Action: "created", Warnings: warnings}, nil
}

// ExportBatch exports every item of one memory type.
func (r *MemoryRepository) ExportBatch(ctx context.Context, ns, memoryType string) (map[string]string, error) {
	out := make(map[string]string)
	switch memoryType {
	case MemoryArchitecture:
		items, _, err := r.ListArchitecture(ctx, ns, search.MaxLimit, 0)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			md, err := r.ExportArchitecture(ctx, ns, item.UniqueSlug)
			if err != nil {
				return nil, err
			}
			out[item.UniqueSlug] = md
		}
	case MemoryTroubleshoot:
		items, _, err := r.ListTroubleshoot(ctx, ns, search.MaxLimit, 0)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			md, err := r.ExportTroubleshoot(ctx, ns, item.UniqueSlug)
			if err != nil {
				return nil, err
			}
			out[item.UniqueSlug] = md
		}
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid memory_type %q", memoryType)
	}
	return out, nil
}

// ImportBatch imports multiple documents, continuing past per-document
// failures.
func (r *MemoryRepository) ImportBatch(ctx context.Context, ns string, contents []string, mode string) ([]ImportResult, error) {
	results := make([]ImportResult, 0, len(contents))
	for i, content := range contents {
		res, err := r.Import(ctx, ns, content, mode)
		if err != nil {
			results = append(results, ImportResult{
				Slug:     fmt.Sprintf("document[%d]", i),
				Action:   "failed",
				Warnings: []string{err.Error()},
			})
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

func renderMarkdown(fm frontMatter, body string) (string, error) {
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal front-matter: %w", err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	return b.String(), nil
}

func parseMarkdown(content string) (*frontMatter, string, []string, error) {
	trimmed := strings.TrimLeft(content, "﻿\n\r ")
	if !strings.HasPrefix(trimmed, "---\n") && !strings.HasPrefix(trimmed, "---\r\n") {
		return nil, "", nil, jiveerr.New(jiveerr.CodeValidation, "document must start with a YAML front-matter block")
	}
	rest := trimmed[strings.Index(trimmed, "\n")+1:]
	endIdx := strings.Index(rest, "\n---")
	if endIdx < 0 {
		return nil, "", nil, jiveerr.New(jiveerr.CodeValidation, "unterminated front-matter block")
	}
	header := rest[:endIdx+1]
	body := rest[endIdx+1:]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	body = strings.TrimLeft(body, "\n")

	var warnings []string
	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(header), &raw); err != nil {
		return nil, "", nil, jiveerr.Wrap(jiveerr.CodeValidation, err, "invalid front-matter YAML")
	}
	for key := range raw {
		if !knownFrontMatterKey(key) {
			warnings = append(warnings, fmt.Sprintf("ignoring unknown front-matter field %q", key))
		}
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, "", nil, jiveerr.Wrap(jiveerr.CodeValidation, err, "invalid front-matter YAML")
	}
	return &fm, strings.TrimRight(body, "\n"), warnings, nil
}

func knownFrontMatterKey(key string) bool {
	switch key {
	case "slug", "title", "memory_type", "keywords", "tags", "ai_when_to_use",
		"children_slugs", "related_slugs", "linked_epic_ids",
		"usage_count", "success_count", "ai_use_case", "created_at", "updated_at":
		return true
	}
	return false
}
