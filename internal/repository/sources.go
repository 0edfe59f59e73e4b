package repository

import (
	"context"
	"strings"

	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// WorkItemSource adapts the work-item table to the search engine.
func (r *WorkItemRepository) WorkItemSource(ns string) search.Source {
	return &workItemSource{repo: r, ns: ns}
}

type workItemSource struct {
	repo *WorkItemRepository
	ns   string
}

func (s *workItemSource) VectorCandidates(ctx context.Context, queryVec []float32, k int) ([]search.Doc, []float64, error) {
	var items []models.WorkItem
	distances, err := s.repo.store.VectorSearch(ctx, &items, storage.Filter{"namespace": s.ns}, queryVec, k)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	docs := make([]search.Doc, len(items))
	for i := range items {
		docs[i] = workItemDoc(&items[i])
	}
	return docs, distances, nil
}

func (s *workItemSource) ScanAll(ctx context.Context) ([]search.Doc, error) {
	var items []models.WorkItem
	if err := s.repo.store.Scan(ctx, &items, storage.Filter{"namespace": s.ns}, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	docs := make([]search.Doc, len(items))
	for i := range items {
		docs[i] = workItemDoc(&items[i])
	}
	return docs, nil
}

func workItemDoc(item *models.WorkItem) search.Doc {
	return search.Doc{
		Key:    item.ID.String(),
		Title:  item.Title,
		Fields: []string{item.Description, strings.Join(item.Tags, " "), strings.Join(item.ContextTags, " ")},
		Row:    *item,
	}
}

// ArchitectureSource adapts the architecture table to the search engine.
func (r *MemoryRepository) ArchitectureSource(ns string) search.Source {
	return &archSource{repo: r, ns: ns}
}

type archSource struct {
	repo *MemoryRepository
	ns   string
}

func (s *archSource) VectorCandidates(ctx context.Context, queryVec []float32, k int) ([]search.Doc, []float64, error) {
	var items []models.ArchitectureItem
	distances, err := s.repo.store.VectorSearch(ctx, &items, storage.Filter{"namespace": s.ns}, queryVec, k)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	docs := make([]search.Doc, len(items))
	for i := range items {
		docs[i] = archDoc(&items[i])
	}
	return docs, distances, nil
}

func (s *archSource) ScanAll(ctx context.Context) ([]search.Doc, error) {
	var items []models.ArchitectureItem
	if err := s.repo.store.Scan(ctx, &items, storage.Filter{"namespace": s.ns}, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	docs := make([]search.Doc, len(items))
	for i := range items {
		docs[i] = archDoc(&items[i])
	}
	return docs, nil
}

func archDoc(item *models.ArchitectureItem) search.Doc {
	return search.Doc{
		Key:   item.UniqueSlug,
		Title: item.Title,
		Fields: []string{
			strings.Join(item.AIWhenToUse, " "),
			strings.Join(item.Keywords, " "),
			item.AIRequirements,
		},
		Row: *item,
	}
}

// TroubleshootSource adapts the troubleshoot table to the search engine.
func (r *MemoryRepository) TroubleshootSource(ns string) search.Source {
	return &troubleshootSource{repo: r, ns: ns}
}

type troubleshootSource struct {
	repo *MemoryRepository
	ns   string
}

func (s *troubleshootSource) VectorCandidates(ctx context.Context, queryVec []float32, k int) ([]search.Doc, []float64, error) {
	var items []models.TroubleshootItem
	distances, err := s.repo.store.VectorSearch(ctx, &items, storage.Filter{"namespace": s.ns}, queryVec, k)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	docs := make([]search.Doc, len(items))
	for i := range items {
		docs[i] = troubleshootDoc(&items[i])
	}
	return docs, distances, nil
}

func (s *troubleshootSource) ScanAll(ctx context.Context) ([]search.Doc, error) {
	var items []models.TroubleshootItem
	if err := s.repo.store.Scan(ctx, &items, storage.Filter{"namespace": s.ns}, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	docs := make([]search.Doc, len(items))
	for i := range items {
		docs[i] = troubleshootDoc(&items[i])
	}
	return docs, nil
}

func troubleshootDoc(item *models.TroubleshootItem) search.Doc {
	return search.Doc{
		Key:   item.UniqueSlug,
		Title: item.Title,
		Fields: []string{
			strings.Join(item.Keywords, " "),
			item.AIUseCase,
		},
		Row: *item,
	}
}
