package repository

import (
	"context"
	"errors"
	"fmt"
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

const (
	maxTitleLen       = 200
	maxDescriptionLen = 10000

	// minGetScore is the cosine-similarity floor for resolving an
	// identifier by vector search.
	minGetScore = 0.5
)

// WorkItemRepository is the sole mutator of the work-item tables.
type WorkItemRepository struct {
	store           *storage.Store
	embedder        embedding.Embedder
	engine          *search.Engine
	logger          *logrus.Logger
	strictHierarchy bool
	maxHops         int
	locks           *nsLocks
}

// NewWorkItemRepository creates a work-item repository.
func NewWorkItemRepository(store *storage.Store, embedder embedding.Embedder, engine *search.Engine, log *logrus.Logger, strictHierarchy bool, maxHops int) *WorkItemRepository {
	if maxHops <= 0 {
		maxHops = 10
	}
	return &WorkItemRepository{
		store:           store,
		embedder:        embedder,
		engine:          engine,
		logger:          log,
		strictHierarchy: strictHierarchy,
		maxHops:         maxHops,
		locks:           newNSLocks(),
	}
}

// WorkItemPatch carries the mutable fields of an update. Nil means "leave
// unchanged"; ParentSet distinguishes clearing the parent from leaving it.
type WorkItemPatch struct {
	Title              *string
	Description        *string
	Status             *string
	Priority           *string
	Complexity         *string
	ParentID           *uuid.UUID
	ParentSet          bool
	OrderIndex         *int
	ProgressPercentage *float64
	ContextTags        []string
	AcceptanceCriteria []string
	EffortEstimate     *float64
	Tags               []string
	TagsSet            bool
	ContextTagsSet     bool
	AcceptanceSet      bool
	Assignee           *string
}

// ListFilter narrows List results.
type ListFilter struct {
	ItemType string
	Status   string
	Priority string
	ParentID *uuid.UUID
	RootOnly bool
	Tags     []string
	SortBy   string
	Desc     bool
	Limit    int
	Offset   int
}

// Create assigns identity, sequencing and embedding to a new work item and
// persists it. Returned warnings carry soft hierarchy violations.
func (r *WorkItemRepository) Create(ctx context.Context, ns string, item *models.WorkItem) (*models.WorkItem, []string, error) {
	if err := validateWorkItemFields(item.Title, item.Description); err != nil {
		return nil, nil, err
	}
	if !models.ValidItemType(item.ItemType) {
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "invalid item_type %q", item.ItemType)
	}
	if item.Status == "" {
		item.Status = models.StatusNotStarted
	}
	if !models.ValidStatus(item.Status) {
		return nil, nil, jiveerr.New(jiveerr.CodeValidation, "invalid status %q", item.Status)
	}
	if item.Priority == "" {
		item.Priority = models.PriorityMedium
	}
	if item.Complexity == "" {
		item.Complexity = models.ComplexityModerate
	}

	r.store.Open(ctx, ns)

	var warnings []string
	if item.ParentID != nil {
		parent, err := r.getByID(ctx, ns, *item.ParentID)
		if err != nil {
			return nil, nil, jiveerr.Wrap(jiveerr.CodeNotFound, err, "parent %s not found", item.ParentID)
		}
		if warn, err := r.checkHierarchyTyping(parent.ItemType, item.ItemType); err != nil {
			return nil, nil, err
		} else if warn != "" {
			warnings = append(warnings, warn)
		}
	}

	seq, err := r.nextSequenceNumber(ctx, ns, item.ParentID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	item.ID = uuid.New()
	item.Namespace = ns
	item.SequenceNumber = seq
	item.OrderIndex = seq
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if item.ContextTags == nil {
		item.ContextTags = []string{}
	}
	if item.AcceptanceCriteria == nil {
		item.AcceptanceCriteria = []string{}
	}

	if err := r.embedItem(ctx, item); err != nil {
		return nil, nil, err
	}
	if err := r.store.Upsert(ctx, item); err != nil {
		return nil, nil, mapStoreErr(err)
	}

	r.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"id":        item.ID,
		"item_type": item.ItemType,
	}).Debug("Work item created")
	return item, warnings, nil
}

// Update applies a patch, bumps updated_at and re-embeds when title or
// description changed.
func (r *WorkItemRepository) Update(ctx context.Context, ns string, id uuid.UUID, patch WorkItemPatch) (*models.WorkItem, []string, error) {
	item, err := r.getByID(ctx, ns, id)
	if err != nil {
		return nil, nil, err
	}

	reembed := false
	var warnings []string

	if patch.Title != nil {
		if err := validateWorkItemFields(*patch.Title, item.Description); err != nil {
			return nil, nil, err
		}
		item.Title = *patch.Title
		reembed = true
	}
	if patch.Description != nil {
		if err := validateWorkItemFields(item.Title, *patch.Description); err != nil {
			return nil, nil, err
		}
		item.Description = *patch.Description
		reembed = true
	}
	if patch.Status != nil {
		if !models.ValidStatus(*patch.Status) {
			return nil, nil, jiveerr.New(jiveerr.CodeValidation, "invalid status %q", *patch.Status)
		}
		if *patch.Status == models.StatusInProgress {
			if err := r.checkBlockersCompleted(ctx, ns, id); err != nil {
				return nil, nil, err
			}
		}
		item.Status = *patch.Status
	}
	if patch.Priority != nil {
		item.Priority = *patch.Priority
	}
	if patch.Complexity != nil {
		item.Complexity = *patch.Complexity
	}
	if patch.ParentSet {
		if patch.ParentID != nil {
			parent, err := r.getByID(ctx, ns, *patch.ParentID)
			if err != nil {
				return nil, nil, jiveerr.Wrap(jiveerr.CodeNotFound, err, "parent %s not found", patch.ParentID)
			}
			if *patch.ParentID == id {
				return nil, nil, jiveerr.New(jiveerr.CodeValidation, "item cannot be its own parent")
			}
			if err := r.checkNoAncestorCycle(ctx, ns, id, *patch.ParentID); err != nil {
				return nil, nil, err
			}
			if warn, err := r.checkHierarchyTyping(parent.ItemType, item.ItemType); err != nil {
				return nil, nil, err
			} else if warn != "" {
				warnings = append(warnings, warn)
			}
		}
		item.ParentID = patch.ParentID
	}
	if patch.OrderIndex != nil {
		item.OrderIndex = *patch.OrderIndex
	}
	if patch.ProgressPercentage != nil {
		if *patch.ProgressPercentage < 0 || *patch.ProgressPercentage > 100 {
			return nil, nil, jiveerr.New(jiveerr.CodeValidation, "progress_percentage must be 0-100")
		}
		item.ProgressPercentage = *patch.ProgressPercentage
	}
	if patch.ContextTagsSet {
		item.ContextTags = patch.ContextTags
	}
	if patch.AcceptanceSet {
		item.AcceptanceCriteria = patch.AcceptanceCriteria
	}
	if patch.TagsSet {
		item.Tags = patch.Tags
	}
	if patch.EffortEstimate != nil {
		item.EffortEstimate = patch.EffortEstimate
	}
	if patch.Assignee != nil {
		item.Assignee = *patch.Assignee
	}

	item.UpdatedAt = time.Now().UTC()
	if reembed {
		if err := r.embedItem(ctx, item); err != nil {
			return nil, nil, err
		}
	}
	if err := r.store.Upsert(ctx, item); err != nil {
		return nil, nil, mapStoreErr(err)
	}
	return item, warnings, nil
}

// Delete removes an item and its dependency edges. Children are re-parented
// to the grandparent by default; mode "delete_descendants" removes the whole
// subtree.
func (r *WorkItemRepository) Delete(ctx context.Context, ns string, id uuid.UUID, mode string) error {
	if mode == "" {
		mode = "reparent_children"
	}
	if mode != "reparent_children" && mode != "delete_descendants" {
		return jiveerr.New(jiveerr.CodeValidation, "invalid delete mode %q", mode)
	}

	unlock := r.locks.lock(ns)
	defer unlock()

	item, err := r.getByID(ctx, ns, id)
	if err != nil {
		return err
	}

	ids := []uuid.UUID{id}
	if mode == "delete_descendants" {
		descendants, err := r.descendantIDs(ctx, ns, id)
		if err != nil {
			return err
		}
		ids = append(ids, descendants...)
	} else {
		children, err := r.childrenOf(ctx, ns, id)
		if err != nil {
			return err
		}
		for i := range children {
			children[i].ParentID = item.ParentID
			children[i].UpdatedAt = time.Now().UTC()
			if err := r.store.Upsert(ctx, &children[i]); err != nil {
				return mapStoreErr(err)
			}
		}
	}

	for _, victim := range ids {
		if err := r.store.Delete(ctx, &models.WorkItem{}, storage.Filter{"namespace": ns, "id": victim}); err != nil {
			return mapStoreErr(err)
		}
		// Edge removal after row removal; validate_graph self-heals if this
		// partially fails.
		if err := r.store.Delete(ctx, &models.WorkItemDependency{}, storage.Filter{"namespace": ns, "source_id": victim}); err != nil {
			r.logger.WithError(err).WithField("id", victim).Warn("Failed to remove outgoing dependency edges")
		}
		if err := r.store.Delete(ctx, &models.WorkItemDependency{}, storage.Filter{"namespace": ns, "target_id": victim}); err != nil {
			r.logger.WithError(err).WithField("id", victim).Warn("Failed to remove incoming dependency edges")
		}
	}

	r.logger.WithFields(logrus.Fields{"namespace": ns, "id": id, "mode": mode, "removed": len(ids)}).Debug("Work item deleted")
	return nil
}

// Get resolves a flexible identifier: exact UUID, then case-insensitive
// exact title, then vector similarity top-1 above the score floor.
func (r *WorkItemRepository) Get(ctx context.Context, ns, identifier string) (*models.WorkItem, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return r.getByID(ctx, ns, id)
	}

	var items []models.WorkItem
	if err := r.store.Scan(ctx, &items, storage.Filter{"namespace": ns}, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	var titleMatch *models.WorkItem
	for i := range items {
		if strings.EqualFold(items[i].Title, identifier) {
			// Tie-break equal titles by recency.
			if titleMatch == nil || items[i].UpdatedAt.After(titleMatch.UpdatedAt) {
				titleMatch = &items[i]
			}
		}
	}
	if titleMatch != nil {
		return titleMatch, nil
	}

	vec, err := r.embedder.Embed(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to embed identifier: %w", err)
	}
	var candidates []models.WorkItem
	distances, err := r.store.VectorSearch(ctx, &candidates, storage.Filter{"namespace": ns}, vec, 2)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if len(candidates) == 0 {
		return nil, jiveerr.New(jiveerr.CodeNotFound, "no work item matches %q", identifier)
	}
	best := 0
	if len(candidates) > 1 && distances[1] == distances[0] &&
		candidates[1].UpdatedAt.After(candidates[0].UpdatedAt) {
		best = 1
	}
	// distance is 1 - cosine similarity, so the floor applies to similarity
	if similarity := 1.0 - distances[best]; similarity < minGetScore {
		return nil, jiveerr.New(jiveerr.CodeNotFound, "no work item matches %q", identifier)
	}
	return &candidates[best], nil
}

// List returns items matching the filter with stable ordering; ties on the
// sort field break by order_index, then created_at.
func (r *WorkItemRepository) List(ctx context.Context, ns string, filter ListFilter) ([]models.WorkItem, int64, string, error) {
	storeFilter := storage.Filter{"namespace": ns}
	if filter.ItemType != "" {
		storeFilter["item_type"] = filter.ItemType
	}
	if filter.Status != "" {
		storeFilter["status"] = filter.Status
	}
	if filter.Priority != "" {
		storeFilter["priority"] = filter.Priority
	}
	if filter.ParentID != nil {
		storeFilter["parent_id"] = *filter.ParentID
	} else if filter.RootOnly {
		storeFilter["parent_id"] = nil
	}

	limit, warning, err := search.ClampLimit(filter.Limit)
	if err != nil {
		return nil, 0, "", err
	}
	if filter.Offset < 0 {
		return nil, 0, "", jiveerr.New(jiveerr.CodeValidation, "offset must be non-negative")
	}

	var items []models.WorkItem
	if err := r.store.Scan(ctx, &items, storeFilter, storage.Query{}); err != nil {
		return nil, 0, "", mapStoreErr(err)
	}

	if len(filter.Tags) > 0 {
		kept := items[:0]
		for _, item := range items {
			if hasAllTags(item.Tags, filter.Tags) {
				kept = append(kept, item)
			}
		}
		items = kept
	}

	sortWorkItems(items, filter.SortBy, filter.Desc)

	total := int64(len(items))
	if filter.Offset >= len(items) {
		return []models.WorkItem{}, total, warning, nil
	}
	items = items[filter.Offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, total, warning, nil
}

// Touch persists an already-validated in-memory mutation, bumping
// updated_at. Used by the analytics engine for live progress updates.
func (r *WorkItemRepository) Touch(ctx context.Context, item *models.WorkItem) error {
	item.UpdatedAt = time.Now().UTC()
	if err := r.store.Upsert(ctx, item); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func (r *WorkItemRepository) getByID(ctx context.Context, ns string, id uuid.UUID) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := r.store.Get(ctx, &item, storage.Filter{"namespace": ns, "id": id}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, jiveerr.New(jiveerr.CodeNotFound, "work item %s not found", id)
		}
		return nil, mapStoreErr(err)
	}
	return &item, nil
}

func (r *WorkItemRepository) embedItem(ctx context.Context, item *models.WorkItem) error {
	vec, err := r.embedder.Embed(ctx, item.Title+"\n"+item.Description)
	if err != nil {
		return fmt.Errorf("failed to embed work item: %w", err)
	}
	item.Embedding = storage.EncodeVector(vec)
	return nil
}

func (r *WorkItemRepository) nextSequenceNumber(ctx context.Context, ns string, parentID *uuid.UUID) (int, error) {
	siblings, err := r.siblingsOf(ctx, ns, parentID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, s := range siblings {
		if s.SequenceNumber > max {
			max = s.SequenceNumber
		}
	}
	return max + 1, nil
}

func (r *WorkItemRepository) siblingsOf(ctx context.Context, ns string, parentID *uuid.UUID) ([]models.WorkItem, error) {
	filter := storage.Filter{"namespace": ns}
	if parentID != nil {
		filter["parent_id"] = *parentID
	} else {
		filter["parent_id"] = nil
	}
	var siblings []models.WorkItem
	if err := r.store.Scan(ctx, &siblings, filter, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	return siblings, nil
}

func (r *WorkItemRepository) childrenOf(ctx context.Context, ns string, id uuid.UUID) ([]models.WorkItem, error) {
	var children []models.WorkItem
	if err := r.store.Scan(ctx, &children, storage.Filter{"namespace": ns, "parent_id": id}, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	sortSiblings(children)
	return children, nil
}

// checkHierarchyTyping enforces the initiative>epic>feature>story>task
// ordering, soft by default.
func (r *WorkItemRepository) checkHierarchyTyping(parentType, childType string) (string, error) {
	if models.TypeRank(childType) >= models.TypeRank(parentType) {
		return "", nil
	}
	msg := fmt.Sprintf("hierarchy typing: %s should not be a child of %s", childType, parentType)
	if r.strictHierarchy {
		return "", jiveerr.New(jiveerr.CodeValidation, "%s", msg)
	}
	return msg, nil
}

// checkNoAncestorCycle rejects a reparent that would make item an ancestor
// of itself.
func (r *WorkItemRepository) checkNoAncestorCycle(ctx context.Context, ns string, id, newParent uuid.UUID) error {
	current := newParent
	for i := 0; i < 1000; i++ {
		if current == id {
			return jiveerr.New(jiveerr.CodeValidation, "reparenting %s under %s would create a hierarchy cycle", id, newParent)
		}
		node, err := r.getByID(ctx, ns, current)
		if err != nil {
			return nil // broken chain is reported by validate_graph, not here
		}
		if node.ParentID == nil {
			return nil
		}
		current = *node.ParentID
	}
	return jiveerr.New(jiveerr.CodeValidation, "ancestor chain exceeds depth limit")
}

func validateWorkItemFields(title, description string) error {
	if strings.TrimSpace(title) == "" {
		return jiveerr.New(jiveerr.CodeValidation, "title must not be empty")
	}
	if len([]rune(title)) > maxTitleLen {
		return jiveerr.New(jiveerr.CodeValidation, "title exceeds %d characters", maxTitleLen)
	}
	if len([]rune(description)) > maxDescriptionLen {
		return jiveerr.New(jiveerr.CodeValidation, "description exceeds %d characters", maxDescriptionLen)
	}
	return nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func sortSiblings(items []models.WorkItem) {
	sortWorkItems(items, "order_index", false)
}

func sortWorkItems(items []models.WorkItem, sortBy string, desc bool) {
	if sortBy == "" {
		sortBy = "created_at"
	}
	less := func(a, b *models.WorkItem) bool {
		var cmp int
		switch sortBy {
		case "title":
			cmp = strings.Compare(a.Title, b.Title)
		case "priority":
			cmp = strings.Compare(a.Priority, b.Priority)
		case "status":
			cmp = strings.Compare(a.Status, b.Status)
		case "sequence_number":
			cmp = a.SequenceNumber - b.SequenceNumber
		case "order_index":
			cmp = a.OrderIndex - b.OrderIndex
		case "updated_at":
			cmp = compareTime(a.UpdatedAt, b.UpdatedAt)
		default:
			cmp = compareTime(a.CreatedAt, b.CreatedAt)
		}
		if cmp == 0 {
			cmp = a.OrderIndex - b.OrderIndex
		}
		if cmp == 0 {
			cmp = compareTime(a.CreatedAt, b.CreatedAt)
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	}
	sort.SliceStable(items, func(i, j int) bool { return less(&items[i], &items[j]) })
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return jiveerr.Wrap(jiveerr.CodeNotFound, err, "record not found")
	case errors.Is(err, storage.ErrUnavailable):
		return jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "store unavailable")
	case errors.Is(err, storage.ErrConstraint):
		return jiveerr.Wrap(jiveerr.CodeDuplicateKey, err, "uniqueness violation")
	default:
		return jiveerr.Wrap(jiveerr.CodeInternal, err, "store operation failed")
	}
}
