package repository

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

type DependencyTestSuite struct {
	suite.Suite
	store *storage.Store
	repo  *WorkItemRepository
	ctx   context.Context

	a, b, c *models.WorkItem
}

func (s *DependencyTestSuite) SetupTest() {
	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := storage.NewStore(config.StorageConfig{Path: s.T().TempDir(), BusyTimeout: 5000}, log)
	s.Require().NoError(err)
	s.store = store

	embedder := embedding.NewHashEmbedder(64)
	s.repo = NewWorkItemRepository(store, embedder, search.NewEngine(embedder), log, false, 10)
	s.ctx = context.Background()

	s.a = s.mk("A")
	s.b = s.mk("B")
	s.c = s.mk("C")
}

func (s *DependencyTestSuite) TearDownTest() { s.store.Close() }

func (s *DependencyTestSuite) mk(title string) *models.WorkItem {
	item, _, err := s.repo.Create(s.ctx, "default", &models.WorkItem{ItemType: models.TypeTask, Title: title})
	s.Require().NoError(err)
	return item
}

func (s *DependencyTestSuite) TestAddAndQuery() {
	edge, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)
	s.Equal(models.DepBlocks, edge.DependencyType)

	deps, err := s.repo.GetDependencies(s.ctx, "default", s.b.ID, "in", false)
	s.Require().NoError(err)
	s.Require().Len(deps.Edges, 1)
	s.Equal(s.a.ID, deps.Edges[0].SourceID)
	s.Require().Len(deps.Items, 1)
	s.Equal(s.a.ID, deps.Items[0].ID)
}

func (s *DependencyTestSuite) TestBlockedByNormalization() {
	edge, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlockedBy)
	s.Require().NoError(err)
	s.Equal(models.DepBlocks, edge.DependencyType)
	s.Equal(s.b.ID, edge.SourceID)
	s.Equal(s.a.ID, edge.TargetID)
}

func (s *DependencyTestSuite) TestIdempotentAdd() {
	first, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)
	second, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	deps, err := s.repo.GetDependencies(s.ctx, "default", s.b.ID, "in", false)
	s.Require().NoError(err)
	s.Len(deps.Edges, 1)
}

func (s *DependencyTestSuite) TestCycleRejected() {
	_, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)

	_, err = s.repo.AddDependency(s.ctx, "default", s.b.ID, s.a.ID, models.DepBlocks)
	s.Require().Error(err)
	je, ok := jiveerr.As(err)
	s.Require().True(ok)
	s.Equal(jiveerr.CodeCycleDetected, je.Code)

	cycle, ok := je.Details["cycle"].([]string)
	s.Require().True(ok)
	s.Equal([]string{s.a.ID.String(), s.b.ID.String(), s.a.ID.String()}, cycle)
}

func (s *DependencyTestSuite) TestTransitiveCycleRejected() {
	_, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)
	_, err = s.repo.AddDependency(s.ctx, "default", s.b.ID, s.c.ID, models.DepBlocks)
	s.Require().NoError(err)

	_, err = s.repo.AddDependency(s.ctx, "default", s.c.ID, s.a.ID, models.DepBlocks)
	s.Require().Error(err)
	s.Equal(jiveerr.CodeCycleDetected, jiveerr.CodeOf(err))
}

func (s *DependencyTestSuite) TestRelatedEdgesDoNotFormCycles() {
	_, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepRelated)
	s.Require().NoError(err)
	_, err = s.repo.AddDependency(s.ctx, "default", s.b.ID, s.a.ID, models.DepRelated)
	s.NoError(err)
}

func (s *DependencyTestSuite) TestRemoveIsIdempotent() {
	_, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)

	s.Require().NoError(s.repo.RemoveDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks))
	s.Require().NoError(s.repo.RemoveDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks))

	deps, err := s.repo.GetDependencies(s.ctx, "default", s.b.ID, "in", false)
	s.Require().NoError(err)
	s.Empty(deps.Edges)
}

func (s *DependencyTestSuite) TestTransitiveQueryBounded() {
	_, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)
	_, err = s.repo.AddDependency(s.ctx, "default", s.b.ID, s.c.ID, models.DepBlocks)
	s.Require().NoError(err)

	direct, err := s.repo.GetDependencies(s.ctx, "default", s.a.ID, "out", false)
	s.Require().NoError(err)
	s.Len(direct.Items, 1)

	transitive, err := s.repo.GetDependencies(s.ctx, "default", s.a.ID, "out", true)
	s.Require().NoError(err)
	s.Len(transitive.Items, 2)
}

func (s *DependencyTestSuite) TestValidateGraphCleansDanglingEdges() {
	_, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)

	// remove the item row directly, leaving its edge dangling
	s.Require().NoError(s.store.Delete(s.ctx, &models.WorkItem{}, storage.Filter{"id": s.a.ID}))

	violations, err := s.repo.ValidateGraph(s.ctx, "default", "namespace", nil)
	s.Require().NoError(err)
	s.Require().Len(violations, 1)
	s.Equal("dangling_edge", violations[0].Kind)

	// the dangling edge was removed, so a second pass is clean
	violations, err = s.repo.ValidateGraph(s.ctx, "default", "namespace", nil)
	s.Require().NoError(err)
	s.Empty(violations)
}

func (s *DependencyTestSuite) TestValidateGraphReportsOrphans() {
	missing := uuid.New()
	orphan := s.mk("orphan")
	// corrupt the parent pointer behind the repository's back
	raw, err := s.repo.Get(s.ctx, "default", orphan.ID.String())
	s.Require().NoError(err)
	raw.ParentID = &missing
	s.Require().NoError(s.repo.Touch(s.ctx, raw))

	violations, err := s.repo.ValidateGraph(s.ctx, "default", "namespace", nil)
	s.Require().NoError(err)
	s.Require().NotEmpty(violations)
	s.Equal("orphan", violations[0].Kind)
}

func (s *DependencyTestSuite) TestStatusTransitionGatedByBlockers() {
	_, err := s.repo.AddDependency(s.ctx, "default", s.a.ID, s.b.ID, models.DepBlocks)
	s.Require().NoError(err)

	inProgress := models.StatusInProgress
	_, _, err = s.repo.Update(s.ctx, "default", s.b.ID, WorkItemPatch{Status: &inProgress})
	s.Require().Error(err)
	s.Equal(jiveerr.CodeValidation, jiveerr.CodeOf(err))

	completed := models.StatusCompleted
	_, _, err = s.repo.Update(s.ctx, "default", s.a.ID, WorkItemPatch{Status: &completed})
	s.Require().NoError(err)

	_, _, err = s.repo.Update(s.ctx, "default", s.b.ID, WorkItemPatch{Status: &inProgress})
	s.NoError(err)
}

func TestDependencyTestSuite(t *testing.T) {
	suite.Run(t, new(DependencyTestSuite))
}
