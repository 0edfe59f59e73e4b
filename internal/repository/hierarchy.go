package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// TreeNode is one node of a hierarchy traversal result, children in sibling
// order.
type TreeNode struct {
	Item     models.WorkItem `json:"item"`
	Children []TreeNode      `json:"children,omitempty"`
}

// GetChildren returns an item's children, optionally as a depth-first tree
// bounded by maxDepth (0, a negative value or anything above 32 means 32
// levels).
func (r *WorkItemRepository) GetChildren(ctx context.Context, ns string, id uuid.UUID, recursive bool, maxDepth int) ([]TreeNode, error) {
	if _, err := r.getByID(ctx, ns, id); err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > 32 {
		maxDepth = 32
	}
	if !recursive {
		maxDepth = 1
	}
	return r.buildTree(ctx, ns, id, maxDepth)
}

func (r *WorkItemRepository) buildTree(ctx context.Context, ns string, id uuid.UUID, depth int) ([]TreeNode, error) {
	if depth == 0 {
		return nil, nil
	}
	children, err := r.childrenOf(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	nodes := make([]TreeNode, 0, len(children))
	for _, child := range children {
		node := TreeNode{Item: child}
		sub, err := r.buildTree(ctx, ns, child.ID, depth-1)
		if err != nil {
			return nil, err
		}
		node.Children = sub
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// GetAncestors returns the chain from the root down to the item's parent.
func (r *WorkItemRepository) GetAncestors(ctx context.Context, ns string, id uuid.UUID) ([]models.WorkItem, error) {
	item, err := r.getByID(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	var chain []models.WorkItem
	seen := map[uuid.UUID]struct{}{id: {}}
	current := item.ParentID
	for current != nil {
		if _, dup := seen[*current]; dup {
			return nil, jiveerr.New(jiveerr.CodeInternal, "ancestor chain of %s revisits %s", id, current)
		}
		seen[*current] = struct{}{}
		parent, err := r.getByID(ctx, ns, *current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *parent)
		current = parent.ParentID
	}
	// reverse into root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// descendantIDs collects the subtree below id, depth-first.
func (r *WorkItemRepository) descendantIDs(ctx context.Context, ns string, id uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	stack := []uuid.UUID{id}
	seen := map[uuid.UUID]struct{}{id: {}}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		children, err := r.childrenOf(ctx, ns, current)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c.ID)
			stack = append(stack, c.ID)
		}
	}
	return out, nil
}

// Reorder moves an item to position newIndex among its siblings. With
// parentSet false the current parent is kept; with parentSet true the item
// moves under newParent (nil makes it a root). Only the destination sibling
// set is renumbered; the set the item left keeps its numbers and any gap.
func (r *WorkItemRepository) Reorder(ctx context.Context, ns string, id uuid.UUID, newParent *uuid.UUID, parentSet bool, newIndex int) (*models.WorkItem, error) {
	unlock := r.locks.lock(ns)
	defer unlock()

	item, err := r.getByID(ctx, ns, id)
	if err != nil {
		return nil, err
	}

	targetParent := item.ParentID
	if parentSet {
		if newParent != nil {
			if *newParent == id {
				return nil, jiveerr.New(jiveerr.CodeValidation, "item cannot be its own parent")
			}
			if _, err := r.getByID(ctx, ns, *newParent); err != nil {
				return nil, err
			}
			if err := r.checkNoAncestorCycle(ctx, ns, id, *newParent); err != nil {
				return nil, err
			}
		}
		targetParent = newParent
	}

	siblings, err := r.siblingsOf(ctx, ns, targetParent)
	if err != nil {
		return nil, err
	}
	// remove the moving item from its (possibly same) sibling set
	kept := siblings[:0]
	for _, s := range siblings {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	siblings = kept
	sortSiblings(siblings)

	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(siblings) {
		newIndex = len(siblings)
	}

	item.ParentID = targetParent
	ordered := make([]models.WorkItem, 0, len(siblings)+1)
	ordered = append(ordered, siblings[:newIndex]...)
	ordered = append(ordered, *item)
	ordered = append(ordered, siblings[newIndex:]...)

	// Bulk reorder compacts sequence gaps.
	now := time.Now().UTC()
	for i := range ordered {
		ordered[i].OrderIndex = i
		ordered[i].SequenceNumber = i + 1
		ordered[i].UpdatedAt = now
		if err := r.Touch(ctx, &ordered[i]); err != nil {
			return nil, err
		}
		if ordered[i].ID == id {
			item = &ordered[i]
		}
	}

	r.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"id":        id,
		"new_index": newIndex,
	}).Debug("Work item reordered")
	return item, nil
}

// RollupProgress recomputes an item's progress as the effort-weighted
// average of its children (weight 1 when effort_estimate is absent) and
// persists it. Items without children are left unchanged.
func (r *WorkItemRepository) RollupProgress(ctx context.Context, ns string, id uuid.UUID) (*models.WorkItem, error) {
	item, err := r.getByID(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	children, err := r.childrenOf(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return item, nil
	}

	var weighted, totalWeight float64
	for _, c := range children {
		weight := 1.0
		if c.EffortEstimate != nil && *c.EffortEstimate > 0 {
			weight = *c.EffortEstimate
		}
		weighted += c.ProgressPercentage * weight
		totalWeight += weight
	}
	item.ProgressPercentage = weighted / totalWeight
	if err := r.Touch(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// RollupAncestors runs RollupProgress up the parent chain of id.
func (r *WorkItemRepository) RollupAncestors(ctx context.Context, ns string, id uuid.UUID) error {
	item, err := r.getByID(ctx, ns, id)
	if err != nil {
		return err
	}
	current := item.ParentID
	for depth := 0; current != nil && depth < 32; depth++ {
		parent, err := r.RollupProgress(ctx, ns, *current)
		if err != nil {
			return err
		}
		current = parent.ParentID
	}
	return nil
}
