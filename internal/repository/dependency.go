package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// DependencySet is the result of a dependency query.
type DependencySet struct {
	Items []models.WorkItem           `json:"items"`
	Edges []models.WorkItemDependency `json:"edges"`
}

// Violation is one finding of a graph validation pass.
type Violation struct {
	Kind    string   `json:"kind"` // cycle, orphan, dangling_edge
	Message string   `json:"message"`
	ItemIDs []string `json:"item_ids,omitempty"`
}

// AddDependency inserts a dependency edge. blocked_by is normalized to a
// blocks edge with endpoints swapped; blocking edges that would close a
// cycle are rejected with the discovered cycle path. Repeated inserts of an
// existing edge return it unchanged.
func (r *WorkItemRepository) AddDependency(ctx context.Context, ns string, sourceID, targetID uuid.UUID, depType string) (*models.WorkItemDependency, error) {
	switch depType {
	case models.DepBlocks, models.DepRelated, models.DepSubtaskOf:
	case models.DepBlockedBy:
		sourceID, targetID = targetID, sourceID
		depType = models.DepBlocks
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid dependency_type %q", depType)
	}
	if sourceID == targetID {
		return nil, jiveerr.New(jiveerr.CodeValidation, "dependency endpoints must differ")
	}
	if _, err := r.getByID(ctx, ns, sourceID); err != nil {
		return nil, err
	}
	if _, err := r.getByID(ctx, ns, targetID); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(ns)
	defer unlock()

	existing, err := r.findEdge(ctx, ns, sourceID, targetID, depType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if depType == models.DepBlocks {
		if cycle, err := r.findCycle(ctx, ns, sourceID, targetID); err != nil {
			return nil, err
		} else if cycle != nil {
			path := make([]string, len(cycle))
			for i, id := range cycle {
				path[i] = id.String()
			}
			return nil, jiveerr.New(jiveerr.CodeCycleDetected, "dependency %s blocks %s would create a cycle", sourceID, targetID).
				WithDetails(map[string]interface{}{"cycle": path})
		}
	}

	now := time.Now().UTC()
	edge := &models.WorkItemDependency{
		ID:             uuid.New(),
		Namespace:      ns,
		SourceID:       sourceID,
		TargetID:       targetID,
		DependencyType: depType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.Upsert(ctx, edge); err != nil {
		return nil, mapStoreErr(err)
	}

	r.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"source":    sourceID,
		"target":    targetID,
		"type":      depType,
	}).Debug("Dependency added")
	return edge, nil
}

// RemoveDependency deletes an edge; removing a nonexistent edge succeeds.
func (r *WorkItemRepository) RemoveDependency(ctx context.Context, ns string, sourceID, targetID uuid.UUID, depType string) error {
	if depType == models.DepBlockedBy {
		sourceID, targetID = targetID, sourceID
		depType = models.DepBlocks
	}
	filter := storage.Filter{"namespace": ns, "source_id": sourceID, "target_id": targetID}
	if depType != "" {
		filter["dependency_type"] = depType
	}
	if err := r.store.Delete(ctx, &models.WorkItemDependency{}, filter); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// GetDependencies returns the edges touching id in the requested direction;
// with transitive set, the reachable set via BFS bounded by the configured
// hop limit.
func (r *WorkItemRepository) GetDependencies(ctx context.Context, ns string, id uuid.UUID, direction string, transitive bool) (*DependencySet, error) {
	switch direction {
	case "", "both", "in", "out":
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid direction %q", direction)
	}
	if direction == "" {
		direction = "both"
	}
	if _, err := r.getByID(ctx, ns, id); err != nil {
		return nil, err
	}

	edges, err := r.allEdges(ctx, ns)
	if err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID][]models.WorkItemDependency)
	in := make(map[uuid.UUID][]models.WorkItemDependency)
	for _, e := range edges {
		out[e.SourceID] = append(out[e.SourceID], e)
		in[e.TargetID] = append(in[e.TargetID], e)
	}

	maxHops := 1
	if transitive {
		maxHops = r.maxHops
	}

	set := &DependencySet{}
	seenItems := make(map[uuid.UUID]struct{})
	seenEdges := make(map[uuid.UUID]struct{})
	type hop struct {
		id    uuid.UUID
		depth int
	}
	queue := []hop{{id: id}}
	visited := map[uuid.UUID]struct{}{id: {}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxHops {
			continue
		}
		var adjacent []models.WorkItemDependency
		if direction == "out" || direction == "both" {
			adjacent = append(adjacent, out[current.id]...)
		}
		if direction == "in" || direction == "both" {
			adjacent = append(adjacent, in[current.id]...)
		}
		for _, e := range adjacent {
			if _, dup := seenEdges[e.ID]; !dup {
				seenEdges[e.ID] = struct{}{}
				set.Edges = append(set.Edges, e)
			}
			next := e.TargetID
			if e.TargetID == current.id {
				next = e.SourceID
			}
			if _, dup := visited[next]; dup {
				continue
			}
			visited[next] = struct{}{}
			if item, err := r.getByID(ctx, ns, next); err == nil {
				if _, dup := seenItems[next]; !dup {
					seenItems[next] = struct{}{}
					set.Items = append(set.Items, *item)
				}
			}
			queue = append(queue, hop{id: next, depth: current.depth + 1})
		}
	}
	return set, nil
}

// ValidateGraph checks the namespace (or the subtree under rootID) for
// cycles, orphaned items and dangling edges. Dangling edges are removed as
// a self-healing pass.
func (r *WorkItemRepository) ValidateGraph(ctx context.Context, ns string, scope string, rootID *uuid.UUID) ([]Violation, error) {
	switch scope {
	case "", "namespace", "subtree":
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid scope %q", scope)
	}

	var items []models.WorkItem
	if err := r.store.Scan(ctx, &items, storage.Filter{"namespace": ns}, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	known := make(map[uuid.UUID]*models.WorkItem, len(items))
	for i := range items {
		known[items[i].ID] = &items[i]
	}

	inScope := func(id uuid.UUID) bool { return true }
	if scope == "subtree" && rootID != nil {
		descendants, err := r.descendantIDs(ctx, ns, *rootID)
		if err != nil {
			return nil, err
		}
		scopeSet := map[uuid.UUID]struct{}{*rootID: {}}
		for _, d := range descendants {
			scopeSet[d] = struct{}{}
		}
		inScope = func(id uuid.UUID) bool {
			_, ok := scopeSet[id]
			return ok
		}
	}

	var violations []Violation

	// orphans: parent pointer to a missing item
	for i := range items {
		item := &items[i]
		if !inScope(item.ID) || item.ParentID == nil {
			continue
		}
		if _, ok := known[*item.ParentID]; !ok {
			violations = append(violations, Violation{
				Kind:    "orphan",
				Message: "parent does not exist",
				ItemIDs: []string{item.ID.String(), item.ParentID.String()},
			})
		}
	}

	edges, err := r.allEdges(ctx, ns)
	if err != nil {
		return nil, err
	}

	// dangling edges: endpoint missing; cleaned up in place
	adjacency := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range edges {
		_, srcOK := known[e.SourceID]
		_, dstOK := known[e.TargetID]
		if !srcOK || !dstOK {
			violations = append(violations, Violation{
				Kind:    "dangling_edge",
				Message: "dependency endpoint does not exist",
				ItemIDs: []string{e.SourceID.String(), e.TargetID.String()},
			})
			if err := r.store.Delete(ctx, &models.WorkItemDependency{}, storage.Filter{"namespace": ns, "id": e.ID}); err != nil {
				r.logger.WithError(err).WithField("edge", e.ID).Warn("Failed to clean dangling edge")
			}
			continue
		}
		if e.DependencyType == models.DepBlocks && (inScope(e.SourceID) || inScope(e.TargetID)) {
			adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
		}
	}

	// cycles in the blocks subgraph
	for _, cycle := range findCycles(adjacency) {
		ids := make([]string, len(cycle))
		for i, id := range cycle {
			ids[i] = id.String()
		}
		violations = append(violations, Violation{
			Kind:    "cycle",
			Message: "blocks subgraph contains a cycle",
			ItemIDs: ids,
		})
	}

	return violations, nil
}

// checkBlockersCompleted gates a transition to in_progress: every blocks
// predecessor must be completed.
func (r *WorkItemRepository) checkBlockersCompleted(ctx context.Context, ns string, id uuid.UUID) error {
	edges, err := r.allEdges(ctx, ns)
	if err != nil {
		return err
	}
	var blocking []string
	for _, e := range edges {
		if e.DependencyType != models.DepBlocks || e.TargetID != id {
			continue
		}
		blocker, err := r.getByID(ctx, ns, e.SourceID)
		if err != nil {
			continue
		}
		if blocker.Status != models.StatusCompleted {
			blocking = append(blocking, blocker.ID.String())
		}
	}
	if len(blocking) > 0 {
		return jiveerr.New(jiveerr.CodeValidation, "work item %s is blocked by incomplete dependencies", id).
			WithDetails(map[string]interface{}{"blockers": blocking})
	}
	return nil
}

func (r *WorkItemRepository) allEdges(ctx context.Context, ns string) ([]models.WorkItemDependency, error) {
	var edges []models.WorkItemDependency
	if err := r.store.Scan(ctx, &edges, storage.Filter{"namespace": ns}, storage.Query{}); err != nil {
		return nil, mapStoreErr(err)
	}
	return edges, nil
}

func (r *WorkItemRepository) findEdge(ctx context.Context, ns string, sourceID, targetID uuid.UUID, depType string) (*models.WorkItemDependency, error) {
	var edges []models.WorkItemDependency
	filter := storage.Filter{
		"namespace":       ns,
		"source_id":       sourceID,
		"target_id":       targetID,
		"dependency_type": depType,
	}
	if err := r.store.Scan(ctx, &edges, filter, storage.Query{Limit: 1}); err != nil {
		return nil, mapStoreErr(err)
	}
	if len(edges) == 0 {
		return nil, nil
	}
	return &edges[0], nil
}

// findCycle runs DFS from the candidate edge's target along blocks
// out-edges; reaching the source means the insert closes a cycle. Returns
// the cycle path target..source..target, or nil.
func (r *WorkItemRepository) findCycle(ctx context.Context, ns string, sourceID, targetID uuid.UUID) ([]uuid.UUID, error) {
	edges, err := r.allEdges(ctx, ns)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[uuid.UUID][]uuid.UUID)
	for _, e := range edges {
		if e.DependencyType == models.DepBlocks {
			adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
		}
	}

	var path []uuid.UUID
	visited := make(map[uuid.UUID]struct{})
	var dfs func(node uuid.UUID) bool
	dfs = func(node uuid.UUID) bool {
		if node == sourceID {
			path = append(path, node)
			return true
		}
		if _, dup := visited[node]; dup {
			return false
		}
		visited[node] = struct{}{}
		for _, next := range adjacency[node] {
			if dfs(next) {
				path = append([]uuid.UUID{node}, path...)
				return true
			}
		}
		return false
	}
	if dfs(targetID) {
		// close the loop back at the target, mirroring the candidate edge
		path = append(path, targetID)
		return path, nil
	}
	return nil, nil
}

// findCycles reports the cycles in the adjacency map found by a recursive
// DFS with colors: one cycle per back edge met, so not every distinct cycle
// of a node set is listed.
func findCycles(adjacency map[uuid.UUID][]uuid.UUID) [][]uuid.UUID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uuid.UUID]int)
	var cycles [][]uuid.UUID
	var stack []uuid.UUID

	var dfs func(node uuid.UUID)
	dfs = func(node uuid.UUID) {
		color[node] = gray
		stack = append(stack, node)
		for _, next := range adjacency[node] {
			switch color[next] {
			case white:
				dfs(next)
			case gray:
				// extract the cycle from the gray stack
				start := -1
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						start = i
						break
					}
				}
				if start >= 0 {
					cycle := append([]uuid.UUID{}, stack[start:]...)
					cycle = append(cycle, next)
					cycles = append(cycles, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for node := range adjacency {
		if color[node] == white {
			dfs(node)
		}
	}
	return cycles
}
