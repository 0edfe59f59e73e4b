package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// Memory types
const (
	MemoryArchitecture = "architecture"
	MemoryTroubleshoot = "troubleshoot"
)

var validSlug = regexp.MustCompile(`^[a-z0-9-]+$`)

// successBoostFactor scales the success-rate boost in match_problem.
const successBoostFactor = 0.2

// contextDepth bounds transitive children expansion in get_context.
const contextDepth = 3

// MemoryRepository is the sole mutator of the two memory tables. Slugs are
// the user-facing identity; row UUIDs never leave this package.
type MemoryRepository struct {
	store    *storage.Store
	embedder embedding.Embedder
	engine   *search.Engine
	logger   *logrus.Logger
}

// NewMemoryRepository creates a memory repository.
func NewMemoryRepository(store *storage.Store, embedder embedding.Embedder, engine *search.Engine, log *logrus.Logger) *MemoryRepository {
	return &MemoryRepository{store: store, embedder: embedder, engine: engine, logger: log}
}

// ValidMemoryType reports whether memoryType names a memory table.
func ValidMemoryType(memoryType string) bool {
	return memoryType == MemoryArchitecture || memoryType == MemoryTroubleshoot
}

func validateSlug(slug string) error {
	if !validSlug.MatchString(slug) {
		return jiveerr.New(jiveerr.CodeValidation, "slug %q must be kebab-case [a-z0-9-]+", slug)
	}
	return nil
}

// CreateArchitecture inserts a new architecture item; the slug must be free
// within the namespace.
func (r *MemoryRepository) CreateArchitecture(ctx context.Context, ns string, item *models.ArchitectureItem) (*models.ArchitectureItem, error) {
	if err := validateSlug(item.UniqueSlug); err != nil {
		return nil, err
	}
	if strings.TrimSpace(item.Title) == "" {
		return nil, jiveerr.New(jiveerr.CodeValidation, "title must not be empty")
	}
	r.store.Open(ctx, ns)
	if existing, _ := r.GetArchitecture(ctx, ns, item.UniqueSlug); existing != nil {
		return nil, jiveerr.New(jiveerr.CodeDuplicateSlug, "architecture item %q already exists", item.UniqueSlug)
	}

	now := time.Now().UTC()
	item.ID = uuid.New()
	item.Namespace = ns
	item.CreatedAt = now
	item.UpdatedAt = now
	normalizeArchLists(item)
	if err := r.embedArchitecture(ctx, item); err != nil {
		return nil, err
	}
	if err := r.store.Upsert(ctx, item); err != nil {
		return nil, mapStoreErr(err)
	}
	r.logger.WithFields(logrus.Fields{"namespace": ns, "slug": item.UniqueSlug}).Debug("Architecture item created")
	return item, nil
}

// UpdateArchitecture applies non-zero fields of patch onto the stored item.
func (r *MemoryRepository) UpdateArchitecture(ctx context.Context, ns, slug string, patch *models.ArchitectureItem) (*models.ArchitectureItem, error) {
	item, err := r.GetArchitecture(ctx, ns, slug)
	if err != nil {
		return nil, err
	}
	reembed := false
	if patch.Title != "" {
		item.Title = patch.Title
		reembed = true
	}
	if patch.AIRequirements != "" {
		item.AIRequirements = patch.AIRequirements
		reembed = true
	}
	if patch.AIWhenToUse != nil {
		item.AIWhenToUse = patch.AIWhenToUse
		reembed = true
	}
	if patch.ChildrenSlugs != nil {
		item.ChildrenSlugs = patch.ChildrenSlugs
	}
	if patch.RelatedSlugs != nil {
		item.RelatedSlugs = patch.RelatedSlugs
	}
	if patch.LinkedEpicIDs != nil {
		item.LinkedEpicIDs = patch.LinkedEpicIDs
	}
	if patch.Keywords != nil {
		item.Keywords = patch.Keywords
		reembed = true
	}
	if patch.Tags != nil {
		item.Tags = patch.Tags
	}
	item.UpdatedAt = time.Now().UTC()
	if reembed {
		if err := r.embedArchitecture(ctx, item); err != nil {
			return nil, err
		}
	}
	if err := r.store.Upsert(ctx, item); err != nil {
		return nil, mapStoreErr(err)
	}
	return item, nil
}

// GetArchitecture loads an item by slug.
func (r *MemoryRepository) GetArchitecture(ctx context.Context, ns, slug string) (*models.ArchitectureItem, error) {
	var item models.ArchitectureItem
	if err := r.store.Get(ctx, &item, storage.Filter{"namespace": ns, "unique_slug": slug}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, jiveerr.New(jiveerr.CodeNotFound, "architecture item %q not found", slug)
		}
		return nil, mapStoreErr(err)
	}
	return &item, nil
}

// DeleteArchitecture removes an item by slug.
func (r *MemoryRepository) DeleteArchitecture(ctx context.Context, ns, slug string) error {
	if _, err := r.GetArchitecture(ctx, ns, slug); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, &models.ArchitectureItem{}, storage.Filter{"namespace": ns, "unique_slug": slug}); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// ListArchitecture returns items ordered by slug.
func (r *MemoryRepository) ListArchitecture(ctx context.Context, ns string, limit, offset int) ([]models.ArchitectureItem, string, error) {
	limit, warning, err := search.ClampLimit(limit)
	if err != nil {
		return nil, "", err
	}
	var items []models.ArchitectureItem
	q := storage.Query{OrderBy: "unique_slug", Limit: limit, Offset: offset}
	if err := r.store.Scan(ctx, &items, storage.Filter{"namespace": ns}, q); err != nil {
		return nil, "", mapStoreErr(err)
	}
	return items, warning, nil
}

// CreateTroubleshoot inserts a new troubleshoot item.
func (r *MemoryRepository) CreateTroubleshoot(ctx context.Context, ns string, item *models.TroubleshootItem) (*models.TroubleshootItem, error) {
	if err := validateSlug(item.UniqueSlug); err != nil {
		return nil, err
	}
	if strings.TrimSpace(item.Title) == "" {
		return nil, jiveerr.New(jiveerr.CodeValidation, "title must not be empty")
	}
	r.store.Open(ctx, ns)
	if existing, _ := r.GetTroubleshoot(ctx, ns, item.UniqueSlug); existing != nil {
		return nil, jiveerr.New(jiveerr.CodeDuplicateSlug, "troubleshoot item %q already exists", item.UniqueSlug)
	}

	now := time.Now().UTC()
	item.ID = uuid.New()
	item.Namespace = ns
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Keywords == nil {
		item.Keywords = []string{}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if err := r.embedTroubleshoot(ctx, item); err != nil {
		return nil, err
	}
	if err := r.store.Upsert(ctx, item); err != nil {
		return nil, mapStoreErr(err)
	}
	r.logger.WithFields(logrus.Fields{"namespace": ns, "slug": item.UniqueSlug}).Debug("Troubleshoot item created")
	return item, nil
}

// UpdateTroubleshoot applies non-zero fields of patch onto the stored item.
func (r *MemoryRepository) UpdateTroubleshoot(ctx context.Context, ns, slug string, patch *models.TroubleshootItem) (*models.TroubleshootItem, error) {
	item, err := r.GetTroubleshoot(ctx, ns, slug)
	if err != nil {
		return nil, err
	}
	reembed := false
	if patch.Title != "" {
		item.Title = patch.Title
		reembed = true
	}
	if patch.AIUseCase != "" {
		item.AIUseCase = patch.AIUseCase
		reembed = true
	}
	if patch.AISolutions != "" {
		item.AISolutions = patch.AISolutions
	}
	if patch.Keywords != nil {
		item.Keywords = patch.Keywords
		reembed = true
	}
	if patch.Tags != nil {
		item.Tags = patch.Tags
	}
	item.UpdatedAt = time.Now().UTC()
	if reembed {
		if err := r.embedTroubleshoot(ctx, item); err != nil {
			return nil, err
		}
	}
	if err := r.store.Upsert(ctx, item); err != nil {
		return nil, mapStoreErr(err)
	}
	return item, nil
}

// GetTroubleshoot loads an item by slug.
func (r *MemoryRepository) GetTroubleshoot(ctx context.Context, ns, slug string) (*models.TroubleshootItem, error) {
	var item models.TroubleshootItem
	if err := r.store.Get(ctx, &item, storage.Filter{"namespace": ns, "unique_slug": slug}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, jiveerr.New(jiveerr.CodeNotFound, "troubleshoot item %q not found", slug)
		}
		return nil, mapStoreErr(err)
	}
	return &item, nil
}

// DeleteTroubleshoot removes an item by slug.
func (r *MemoryRepository) DeleteTroubleshoot(ctx context.Context, ns, slug string) error {
	if _, err := r.GetTroubleshoot(ctx, ns, slug); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, &models.TroubleshootItem{}, storage.Filter{"namespace": ns, "unique_slug": slug}); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// ListTroubleshoot returns items ordered by slug.
func (r *MemoryRepository) ListTroubleshoot(ctx context.Context, ns string, limit, offset int) ([]models.TroubleshootItem, string, error) {
	limit, warning, err := search.ClampLimit(limit)
	if err != nil {
		return nil, "", err
	}
	var items []models.TroubleshootItem
	q := storage.Query{OrderBy: "unique_slug", Limit: limit, Offset: offset}
	if err := r.store.Scan(ctx, &items, storage.Filter{"namespace": ns}, q); err != nil {
		return nil, "", mapStoreErr(err)
	}
	return items, warning, nil
}

// Search ranks memory items of one table against a query.
func (r *MemoryRepository) Search(ctx context.Context, ns, memoryType, query string, opts search.Options) ([]search.Result, error) {
	switch memoryType {
	case MemoryArchitecture:
		return r.engine.Search(ctx, r.ArchitectureSource(ns), query, opts)
	case MemoryTroubleshoot:
		return r.engine.Search(ctx, r.TroubleshootSource(ns), query, opts)
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid memory_type %q", memoryType)
	}
}

// ContextEntry is one rendered section of an architecture context document.
type ContextEntry struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Kind    string `json:"kind"` // root, child, related
	Depth   int    `json:"depth"`
	Content string `json:"content"`
}

// ContextDocument is a token-budgeted view of an architecture item and its
// neighborhood.
type ContextDocument struct {
	Slug            string         `json:"slug"`
	Title           string         `json:"title"`
	Entries         []ContextEntry `json:"entries"`
	EstimatedTokens int            `json:"estimated_tokens"`
	TokenBudget     int            `json:"token_budget"`
	Truncated       bool           `json:"truncated"`
}

// GetContext assembles the root item, its transitive children and its
// related items, then trims the farthest and related-before-child entries
// until the ceil(chars/4) token estimate fits the budget.
func (r *MemoryRepository) GetContext(ctx context.Context, ns, slug string, tokenBudget int) (*ContextDocument, error) {
	if tokenBudget <= 0 {
		tokenBudget = 4000
	}
	root, err := r.GetArchitecture(ctx, ns, slug)
	if err != nil {
		return nil, err
	}

	doc := &ContextDocument{Slug: root.UniqueSlug, Title: root.Title, TokenBudget: tokenBudget}

	rootContent := renderArchRoot(root)
	doc.Entries = append(doc.Entries, ContextEntry{
		Slug: root.UniqueSlug, Title: root.Title, Kind: "root", Depth: 0, Content: rootContent,
	})

	// transitive children, breadth-first so depth is the drop priority
	type queued struct {
		slug  string
		depth int
	}
	visited := map[string]struct{}{root.UniqueSlug: {}}
	queue := make([]queued, 0, len(root.ChildrenSlugs))
	for _, c := range root.ChildrenSlugs {
		queue = append(queue, queued{slug: c, depth: 1})
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, dup := visited[current.slug]; dup || current.depth > contextDepth {
			continue
		}
		visited[current.slug] = struct{}{}
		child, err := r.GetArchitecture(ctx, ns, current.slug)
		if err != nil {
			continue // missing children are skipped, not fatal
		}
		doc.Entries = append(doc.Entries, ContextEntry{
			Slug: child.UniqueSlug, Title: child.Title, Kind: "child", Depth: current.depth,
			Content: summarize(child.AIRequirements, 500),
		})
		for _, c := range child.ChildrenSlugs {
			queue = append(queue, queued{slug: c, depth: current.depth + 1})
		}
	}

	for _, rel := range root.RelatedSlugs {
		if _, dup := visited[rel]; dup {
			continue
		}
		visited[rel] = struct{}{}
		related, err := r.GetArchitecture(ctx, ns, rel)
		if err != nil {
			continue
		}
		doc.Entries = append(doc.Entries, ContextEntry{
			Slug: related.UniqueSlug, Title: related.Title, Kind: "related", Depth: 1,
			Content: summarize(related.AIRequirements, 300),
		})
	}

	r.fitBudget(doc)
	return doc, nil
}

// fitBudget drops or truncates the lowest-priority entries (farthest depth
// first, related before child at equal depth; root is last to shrink) until
// the document fits.
func (r *MemoryRepository) fitBudget(doc *ContextDocument) {
	estimate := func() int {
		total := 0
		for _, e := range doc.Entries {
			total += (len(e.Content) + len(e.Title) + 3) / 4
		}
		return total
	}

	priority := func(e ContextEntry) int {
		// higher value drops first
		switch e.Kind {
		case "root":
			return -1
		case "related":
			return e.Depth*10 + 5
		default:
			return e.Depth * 10
		}
	}

	doc.EstimatedTokens = estimate()
	for doc.EstimatedTokens > doc.TokenBudget {
		worst, worstIdx := -1, -1
		for i := 1; i < len(doc.Entries); i++ {
			if p := priority(doc.Entries[i]); p > worst {
				worst, worstIdx = p, i
			}
		}
		if worstIdx < 0 {
			// only the root remains: truncate its content to fit
			room := doc.TokenBudget * 4
			doc.Entries[0].Content = summarize(doc.Entries[0].Content, room)
			doc.Truncated = true
			doc.EstimatedTokens = estimate()
			break
		}
		doc.Entries = append(doc.Entries[:worstIdx], doc.Entries[worstIdx+1:]...)
		doc.Truncated = true
		doc.EstimatedTokens = estimate()
	}
}

// ProblemMatch is one ranked troubleshoot hit.
type ProblemMatch struct {
	Item        models.TroubleshootItem `json:"item"`
	Score       float64                 `json:"score"`
	BaseScore   float64                 `json:"base_score"`
	SuccessRate float64                 `json:"success_rate"`
}

// MatchProblem ranks troubleshoot entries against a problem description,
// boosting entries with a history of working, and bumps usage_count on the
// returned rows.
func (r *MemoryRepository) MatchProblem(ctx context.Context, ns, description string, limit int) ([]ProblemMatch, string, error) {
	if strings.TrimSpace(description) == "" {
		return nil, "", jiveerr.New(jiveerr.CodeValidation, "problem description must not be empty")
	}
	limit, warning, err := search.ClampLimit(limit)
	if err != nil {
		return nil, "", err
	}

	vec, err := r.embedder.Embed(ctx, description)
	if err != nil {
		return nil, "", fmt.Errorf("failed to embed problem description: %w", err)
	}

	var candidates []models.TroubleshootItem
	distances, err := r.store.VectorSearch(ctx, &candidates, storage.Filter{"namespace": ns}, vec, limit*2)
	if err != nil {
		return nil, "", mapStoreErr(err)
	}

	matches := make([]ProblemMatch, 0, len(candidates))
	for i, item := range candidates {
		base := 1.0 / (1.0 + distances[i])
		rate := float64(item.SuccessCount) / float64(max(item.UsageCount, 1))
		boost := 1.0 + successBoostFactor*rate
		matches = append(matches, ProblemMatch{
			Item:        item,
			Score:       base * boost,
			BaseScore:   base,
			SuccessRate: rate,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}

	for i := range matches {
		matches[i].Item.UsageCount++
		matches[i].Item.UpdatedAt = time.Now().UTC()
		if err := r.store.Upsert(ctx, &matches[i].Item); err != nil {
			r.logger.WithError(err).WithField("slug", matches[i].Item.UniqueSlug).Warn("Failed to bump usage count")
		}
	}
	return matches, warning, nil
}

// ReportSuccess records that a previously returned solution worked.
func (r *MemoryRepository) ReportSuccess(ctx context.Context, ns, slug string) (*models.TroubleshootItem, error) {
	item, err := r.GetTroubleshoot(ctx, ns, slug)
	if err != nil {
		return nil, err
	}
	item.SuccessCount++
	item.UpdatedAt = time.Now().UTC()
	if err := r.store.Upsert(ctx, item); err != nil {
		return nil, mapStoreErr(err)
	}
	return item, nil
}

func (r *MemoryRepository) embedArchitecture(ctx context.Context, item *models.ArchitectureItem) error {
	text := item.Title + "\n" + strings.Join(item.AIWhenToUse, "\n") + "\n" +
		strings.Join(item.Keywords, " ") + "\n" + item.AIRequirements
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed architecture item: %w", err)
	}
	item.Embedding = storage.EncodeVector(vec)
	return nil
}

func (r *MemoryRepository) embedTroubleshoot(ctx context.Context, item *models.TroubleshootItem) error {
	text := item.Title + "\n" + strings.Join(item.Keywords, " ") + "\n" + item.AIUseCase
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed troubleshoot item: %w", err)
	}
	item.Embedding = storage.EncodeVector(vec)
	return nil
}

func normalizeArchLists(item *models.ArchitectureItem) {
	if item.AIWhenToUse == nil {
		item.AIWhenToUse = []string{}
	}
	if item.ChildrenSlugs == nil {
		item.ChildrenSlugs = []string{}
	}
	if item.RelatedSlugs == nil {
		item.RelatedSlugs = []string{}
	}
	if item.LinkedEpicIDs == nil {
		item.LinkedEpicIDs = []uuid.UUID{}
	}
	if item.Keywords == nil {
		item.Keywords = []string{}
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
}

func renderArchRoot(item *models.ArchitectureItem) string {
	var b strings.Builder
	if len(item.AIWhenToUse) > 0 {
		b.WriteString("When to use:\n")
		for _, w := range item.AIWhenToUse {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(item.AIRequirements)
	return b.String()
}

// summarize truncates text to maxChars bytes, preferring a sentence
// boundary in the second half of the window. When no such boundary exists
// the cut falls at maxChars and a trailing "…" is appended.
func summarize(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	window := text[:maxChars]
	cut := -1
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > cut {
			cut = idx + 1
		}
	}
	if cut > maxChars/2 {
		return strings.TrimSpace(window[:cut])
	}
	return strings.TrimSpace(window) + "…"
}
