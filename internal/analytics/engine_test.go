package analytics

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/repository"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

type AnalyticsTestSuite struct {
	suite.Suite
	store  *storage.Store
	items  *repository.WorkItemRepository
	engine *Engine
	ctx    context.Context
}

func (s *AnalyticsTestSuite) SetupTest() {
	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := storage.NewStore(config.StorageConfig{Path: s.T().TempDir(), BusyTimeout: 5000}, log)
	s.Require().NoError(err)
	s.store = store

	embedder := embedding.NewHashEmbedder(64)
	s.items = repository.NewWorkItemRepository(store, embedder, search.NewEngine(embedder), log, false, 10)
	s.engine = NewEngine(store, s.items, log)
	s.ctx = context.Background()
}

func (s *AnalyticsTestSuite) TearDownTest() { s.store.Close() }

func (s *AnalyticsTestSuite) mk(title string, parent *models.WorkItem) *models.WorkItem {
	item := &models.WorkItem{ItemType: models.TypeTask, Title: title}
	if parent != nil {
		item.ParentID = &parent.ID
		item.ItemType = models.TypeTask
	} else {
		item.ItemType = models.TypeEpic
	}
	created, _, err := s.items.Create(s.ctx, "default", item)
	s.Require().NoError(err)
	return created
}

func (s *AnalyticsTestSuite) TestTrackUpdatesItemAndRollsUp() {
	parent := s.mk("parent", nil)
	leafA := s.mk("leaf a", parent)
	leafB := s.mk("leaf b", parent)

	_, err := s.engine.Track(s.ctx, "default", TrackInput{
		EntityID:           leafA.ID,
		ProgressPercentage: 100,
		Status:             models.StatusCompleted,
	})
	s.Require().NoError(err)

	gotA, err := s.items.Get(s.ctx, "default", leafA.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, gotA.Status)
	s.InDelta(100, gotA.ProgressPercentage, 0.001)

	gotB, err := s.items.Get(s.ctx, "default", leafB.ID.String())
	s.Require().NoError(err)
	s.InDelta(0, gotB.ProgressPercentage, 0.001)

	gotParent, err := s.items.Get(s.ctx, "default", parent.ID.String())
	s.Require().NoError(err)
	s.InDelta(50, gotParent.ProgressPercentage, 0.001)
}

func (s *AnalyticsTestSuite) TestTrackCompletesAtHundred() {
	item := s.mk("solo", nil)
	_, err := s.engine.Track(s.ctx, "default", TrackInput{EntityID: item.ID, ProgressPercentage: 100})
	s.Require().NoError(err)

	got, err := s.items.Get(s.ctx, "default", item.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
}

func (s *AnalyticsTestSuite) TestTrackValidatesRange() {
	item := s.mk("solo", nil)
	_, err := s.engine.Track(s.ctx, "default", TrackInput{EntityID: item.ID, ProgressPercentage: 150})
	s.Require().Error(err)
	s.Equal(jiveerr.CodeValidation, jiveerr.CodeOf(err))
}

func (s *AnalyticsTestSuite) TestReportGroupsByStatus() {
	a := s.mk("a", nil)
	s.mk("b", nil)
	_, err := s.engine.Track(s.ctx, "default", TrackInput{EntityID: a.ID, ProgressPercentage: 100, Status: models.StatusCompleted})
	s.Require().NoError(err)

	report, err := s.engine.Report(s.ctx, "default", repository.ListFilter{}, "status", false)
	s.Require().NoError(err)
	s.Len(report[models.StatusCompleted], 1)
	s.Len(report[models.StatusNotStarted], 1)
}

func (s *AnalyticsTestSuite) TestComputeAnalytics() {
	a := s.mk("a", nil)
	s.mk("b", nil)

	_, err := s.engine.Track(s.ctx, "default", TrackInput{EntityID: a.ID, ProgressPercentage: 10, Status: models.StatusInProgress})
	s.Require().NoError(err)
	_, err = s.engine.Track(s.ctx, "default", TrackInput{EntityID: a.ID, ProgressPercentage: 100, Status: models.StatusCompleted})
	s.Require().NoError(err)

	out, err := s.engine.ComputeAnalytics(s.ctx, "default", 30)
	s.Require().NoError(err)
	s.Equal(2, out.TotalItems)
	s.Equal(1, out.CountsByStatus[models.StatusCompleted])
	s.InDelta(0.5, out.CompletionRate, 0.001)
	s.Greater(out.VelocityPerWeek, 0.0)
}

func (s *AnalyticsTestSuite) TestStatusSnapshotIncludesHistory() {
	item := s.mk("tracked", nil)
	for _, p := range []float64{10, 40, 70} {
		_, err := s.engine.Track(s.ctx, "default", TrackInput{EntityID: item.ID, ProgressPercentage: p, Status: models.StatusInProgress})
		s.Require().NoError(err)
	}

	snap, err := s.engine.StatusSnapshot(s.ctx, "default", item.ID, 2)
	s.Require().NoError(err)
	s.Len(snap.History, 2)
	s.InDelta(70, snap.Item.ProgressPercentage, 0.001)
}

func (s *AnalyticsTestSuite) TestSetMilestone() {
	item := s.mk("m1", nil)
	_, err := s.engine.Track(s.ctx, "default", TrackInput{EntityID: item.ID, ProgressPercentage: 50, Status: models.StatusInProgress})
	s.Require().NoError(err)

	status, err := s.engine.SetMilestone(s.ctx, "default", &models.Milestone{
		Title:                 "Beta",
		TargetDate:            snapTargetDate(),
		AssociatedWorkItemIDs: []uuid.UUID{item.ID},
	})
	s.Require().NoError(err)
	s.InDelta(50, status.Progress, 0.001)
	s.GreaterOrEqual(status.DaysToTarget, 6)

	all, err := s.engine.Milestones(s.ctx, "default")
	s.Require().NoError(err)
	s.Len(all, 1)
}

func snapTargetDate() time.Time {
	return time.Now().UTC().AddDate(0, 0, 7)
}

func TestAnalyticsTestSuite(t *testing.T) {
	suite.Run(t, new(AnalyticsTestSuite))
}
