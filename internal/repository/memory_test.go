package repository

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/search"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

type MemoryRepositoryTestSuite struct {
	suite.Suite
	store *storage.Store
	repo  *MemoryRepository
	ctx   context.Context
}

func (s *MemoryRepositoryTestSuite) SetupTest() {
	log := logrus.New()
	log.SetOutput(io.Discard)

	store, err := storage.NewStore(config.StorageConfig{Path: s.T().TempDir(), BusyTimeout: 5000}, log)
	s.Require().NoError(err)
	s.store = store

	embedder := embedding.NewHashEmbedder(64)
	s.repo = NewMemoryRepository(store, embedder, search.NewEngine(embedder), log)
	s.ctx = context.Background()
}

func (s *MemoryRepositoryTestSuite) TearDownTest() { s.store.Close() }

func (s *MemoryRepositoryTestSuite) TestCreateRejectsBadSlug() {
	for _, slug := range []string{"Has-Upper", "has space", "under_score", ""} {
		_, err := s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
			UniqueSlug: slug, Title: "t",
		})
		s.Require().Error(err, "slug %q", slug)
		s.Equal(jiveerr.CodeValidation, jiveerr.CodeOf(err))
	}
}

func (s *MemoryRepositoryTestSuite) TestDuplicateSlug() {
	_, err := s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "jwt-auth", Title: "JWT",
	})
	s.Require().NoError(err)

	_, err = s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "jwt-auth", Title: "JWT again",
	})
	s.Require().Error(err)
	s.Equal(jiveerr.CodeDuplicateSlug, jiveerr.CodeOf(err))

	// same slug in another namespace is fine
	_, err = s.repo.CreateArchitecture(s.ctx, "other", &models.ArchitectureItem{
		UniqueSlug: "jwt-auth", Title: "JWT elsewhere",
	})
	s.NoError(err)
}

func (s *MemoryRepositoryTestSuite) TestExportImportRoundTrip() {
	created, err := s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug:     "jwt-auth",
		Title:          "JWT",
		AIRequirements: "Use RS256",
		AIWhenToUse:    []string{"token based login"},
		Keywords:       []string{"jwt", "auth"},
		Tags:           []string{"security"},
	})
	s.Require().NoError(err)

	md, err := s.repo.ExportArchitecture(s.ctx, "default", "jwt-auth")
	s.Require().NoError(err)
	s.True(strings.HasPrefix(md, "---\n"))
	s.Contains(md, "slug: jwt-auth")
	s.Contains(md, "Use RS256")

	s.Require().NoError(s.repo.DeleteArchitecture(s.ctx, "default", "jwt-auth"))

	result, err := s.repo.Import(s.ctx, "default", md, ImportMerge)
	s.Require().NoError(err)
	s.Equal("created", result.Action)

	restored, err := s.repo.GetArchitecture(s.ctx, "default", "jwt-auth")
	s.Require().NoError(err)
	s.Equal(created.Title, restored.Title)
	s.Equal(created.AIRequirements, restored.AIRequirements)
	s.Equal(created.AIWhenToUse, restored.AIWhenToUse)
	s.Equal(created.Keywords, restored.Keywords)
	s.Equal(created.Tags, restored.Tags)
}

func (s *MemoryRepositoryTestSuite) TestImportSkipExisting() {
	_, err := s.repo.CreateTroubleshoot(s.ctx, "default", &models.TroubleshootItem{
		UniqueSlug: "conn-reset", Title: "original", AISolutions: "restart it",
	})
	s.Require().NoError(err)

	md, err := s.repo.ExportTroubleshoot(s.ctx, "default", "conn-reset")
	s.Require().NoError(err)
	md = strings.Replace(md, "title: original", "title: replacement", 1)

	result, err := s.repo.Import(s.ctx, "default", md, ImportSkipExisting)
	s.Require().NoError(err)
	s.Equal("skipped", result.Action)

	got, err := s.repo.GetTroubleshoot(s.ctx, "default", "conn-reset")
	s.Require().NoError(err)
	s.Equal("original", got.Title)
}

func (s *MemoryRepositoryTestSuite) TestImportWarnsOnUnknownFields() {
	md := "---\nslug: new-entry\ntitle: T\nmemory_type: troubleshoot\nbogus_field: x\n---\n\nsteps\n"
	result, err := s.repo.Import(s.ctx, "default", md, ImportMerge)
	s.Require().NoError(err)
	s.Equal("created", result.Action)
	s.Require().NotEmpty(result.Warnings)
	s.Contains(result.Warnings[0], "bogus_field")
}

func (s *MemoryRepositoryTestSuite) TestImportRejectsMissingFrontMatter() {
	_, err := s.repo.Import(s.ctx, "default", "just a plain document", ImportMerge)
	s.Require().Error(err)
	s.Equal(jiveerr.CodeValidation, jiveerr.CodeOf(err))
}

func (s *MemoryRepositoryTestSuite) TestMatchProblemBoostAndUsage() {
	_, err := s.repo.CreateTroubleshoot(s.ctx, "default", &models.TroubleshootItem{
		UniqueSlug: "proven", Title: "connection reset",
		AIUseCase: "connection reset by peer under load",
	})
	s.Require().NoError(err)
	_, err = s.repo.CreateTroubleshoot(s.ctx, "default", &models.TroubleshootItem{
		UniqueSlug: "unproven", Title: "connection reset",
		AIUseCase: "connection reset by peer under load",
	})
	s.Require().NoError(err)

	// give one entry a success history
	for i := 0; i < 5; i++ {
		_, err = s.repo.ReportSuccess(s.ctx, "default", "proven")
		s.Require().NoError(err)
	}
	proven, err := s.repo.GetTroubleshoot(s.ctx, "default", "proven")
	s.Require().NoError(err)
	proven.UsageCount = 5
	s.Require().NoError(s.store.Upsert(s.ctx, proven))

	matches, _, err := s.repo.MatchProblem(s.ctx, "default", "connection reset by peer", 2)
	s.Require().NoError(err)
	s.Require().Len(matches, 2)
	s.Equal("proven", matches[0].Item.UniqueSlug)
	s.Greater(matches[0].Score, matches[1].Score)

	// usage count was bumped on both returned rows
	after, err := s.repo.GetTroubleshoot(s.ctx, "default", "unproven")
	s.Require().NoError(err)
	s.Equal(1, after.UsageCount)
}

func (s *MemoryRepositoryTestSuite) TestGetContextBudget() {
	long := strings.Repeat("The service boundary owns its data. ", 200)
	_, err := s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "root-doc", Title: "Root", AIRequirements: long,
		ChildrenSlugs: []string{"child-doc"},
		RelatedSlugs:  []string{"related-doc"},
	})
	s.Require().NoError(err)
	_, err = s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "child-doc", Title: "Child", AIRequirements: long,
	})
	s.Require().NoError(err)
	_, err = s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "related-doc", Title: "Related", AIRequirements: long,
	})
	s.Require().NoError(err)

	full, err := s.repo.GetContext(s.ctx, "default", "root-doc", 100000)
	s.Require().NoError(err)
	s.Len(full.Entries, 3)
	s.False(full.Truncated)

	tight, err := s.repo.GetContext(s.ctx, "default", "root-doc", 600)
	s.Require().NoError(err)
	s.True(tight.Truncated)
	s.LessOrEqual(tight.EstimatedTokens, tight.TokenBudget)
	// the root survives every cut
	s.Equal("root", tight.Entries[0].Kind)
}

func (s *MemoryRepositoryTestSuite) TestGetContextDropsRelatedBeforeChild() {
	body := strings.Repeat("content sentence here. ", 40)
	_, err := s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "root-doc", Title: "Root", AIRequirements: "short root",
		ChildrenSlugs: []string{"child-doc"},
		RelatedSlugs:  []string{"related-doc"},
	})
	s.Require().NoError(err)
	_, err = s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "child-doc", Title: "Child", AIRequirements: body,
	})
	s.Require().NoError(err)
	_, err = s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "related-doc", Title: "Related", AIRequirements: body,
	})
	s.Require().NoError(err)

	// budget with room for root + one neighbor: related drops first
	doc, err := s.repo.GetContext(s.ctx, "default", "root-doc", 160)
	s.Require().NoError(err)
	for _, e := range doc.Entries {
		s.NotEqual("related", e.Kind)
	}
}

func (s *MemoryRepositoryTestSuite) TestSearchMemory() {
	_, err := s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "jwt-auth", Title: "JWT authentication",
		Keywords: []string{"jwt", "token"}, AIRequirements: "Use RS256 signing",
	})
	s.Require().NoError(err)
	_, err = s.repo.CreateArchitecture(s.ctx, "default", &models.ArchitectureItem{
		UniqueSlug: "db-migrations", Title: "Database migrations",
		Keywords: []string{"schema"}, AIRequirements: "Use sequential migrations",
	})
	s.Require().NoError(err)

	results, err := s.repo.Search(s.ctx, "default", MemoryArchitecture, "jwt token authentication", search.Options{Mode: search.ModeHybrid, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("jwt-auth", results[0].Doc.Key)
}

func TestMemoryRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryRepositoryTestSuite))
}
