package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vuxtra/mcp-jive/internal/embedding"
	"github.com/vuxtra/mcp-jive/internal/jiveerr"
)

// Mode selects the ranking strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

const (
	// DefaultLimit and MaxLimit bound result set sizes.
	DefaultLimit = 10
	MaxLimit     = 100

	semanticWeight = 0.7
	keywordWeight  = 0.3
	titleBoost     = 0.1
)

// Doc is one searchable row, flattened for ranking. Key is the table's
// primary key within the namespace.
type Doc struct {
	Key    string
	Title  string
	Fields []string
	Row    interface{}
}

// Source feeds candidate documents out of one table.
type Source interface {
	// VectorCandidates returns the k nearest docs to queryVec with their
	// distances. A zero query vector returns no candidates.
	VectorCandidates(ctx context.Context, queryVec []float32, k int) ([]Doc, []float64, error)
	// ScanAll returns every doc visible to the query's namespace filter.
	ScanAll(ctx context.Context) ([]Doc, error)
}

// Options tune one search call.
type Options struct {
	Mode                Mode
	Limit               int
	SimilarityThreshold float64
}

// Result is a ranked hit.
type Result struct {
	Doc           Doc
	Score         float64
	SemanticScore float64
	KeywordScore  float64
}

// Engine ranks documents by vector similarity, keyword overlap, or a
// weighted blend of both.
type Engine struct {
	embedder embedding.Embedder
}

// NewEngine creates a search engine over the given embedder.
func NewEngine(embedder embedding.Embedder) *Engine {
	return &Engine{embedder: embedder}
}

// ClampLimit normalizes a requested limit. Zero means no limit was given
// and yields DefaultLimit; negative is a caller error; above MaxLimit clamps
// and reports a warning.
func ClampLimit(limit int) (int, string, error) {
	if limit == 0 {
		return DefaultLimit, "", nil
	}
	if limit < 0 {
		return 0, "", jiveerr.New(jiveerr.CodeValidation, "limit must be positive, got %d", limit)
	}
	if limit > MaxLimit {
		return MaxLimit, fmt.Sprintf("limit %d clamped to %d", limit, MaxLimit), nil
	}
	return limit, "", nil
}

// Search runs one query against a source.
func (e *Engine) Search(ctx context.Context, src Source, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, jiveerr.New(jiveerr.CodeValidation, "query must not be empty")
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var results []Result
	var err error
	switch mode {
	case ModeSemantic:
		results, err = e.semantic(ctx, src, query, limit)
	case ModeKeyword:
		results, err = e.keyword(ctx, src, query)
	case ModeHybrid:
		results, err = e.hybrid(ctx, src, query, limit)
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "unknown search_type %q", mode)
	}
	if err != nil {
		return nil, err
	}

	if opts.SimilarityThreshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= opts.SimilarityThreshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) semantic(ctx context.Context, src Source, query string, limit int) ([]Result, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	docs, distances, err := src.VectorCandidates(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(docs))
	for i, doc := range docs {
		score := 1.0 / (1.0 + distances[i])
		results[i] = Result{Doc: doc, Score: score, SemanticScore: score}
	}
	return results, nil
}

func (e *Engine) keyword(ctx context.Context, src Source, query string) ([]Result, error) {
	docs, err := src.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	queryTokens := tokenize(query)
	var results []Result
	for _, doc := range docs {
		score := keywordScore(queryTokens, doc)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Doc: doc, Score: score, KeywordScore: score})
	}
	return results, nil
}

func (e *Engine) hybrid(ctx context.Context, src Source, query string, limit int) ([]Result, error) {
	// Over-fetch the semantic side so the blend has candidates to demote.
	semanticHits, err := e.semantic(ctx, src, query, limit*2)
	if err != nil {
		return nil, err
	}
	keywordHits, err := e.keyword(ctx, src, query)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*Result)
	for i := range semanticHits {
		r := semanticHits[i]
		merged[r.Doc.Key] = &r
	}
	for i := range keywordHits {
		r := keywordHits[i]
		if existing, ok := merged[r.Doc.Key]; ok {
			existing.KeywordScore = r.KeywordScore
		} else {
			merged[r.Doc.Key] = &r
		}
	}

	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, *r)
	}

	normalizeScores(results)
	for i := range results {
		results[i].Score = semanticWeight*results[i].SemanticScore + keywordWeight*results[i].KeywordScore
	}
	return results, nil
}

// normalizeScores min-max normalizes semantic and keyword scores in place
// within the result set. A degenerate range maps every value to 1 when the
// shared value is positive and leaves it unchanged otherwise.
func normalizeScores(results []Result) {
	if len(results) == 0 {
		return
	}
	normalize := func(get func(*Result) float64, set func(*Result, float64)) {
		min, max := get(&results[0]), get(&results[0])
		for i := range results {
			v := get(&results[i])
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		span := max - min
		for i := range results {
			if span == 0 {
				if max > 0 {
					set(&results[i], 1)
				}
				continue
			}
			set(&results[i], (get(&results[i])-min)/span)
		}
	}
	normalize(func(r *Result) float64 { return r.SemanticScore }, func(r *Result, v float64) { r.SemanticScore = v })
	normalize(func(r *Result) float64 { return r.KeywordScore }, func(r *Result, v float64) { r.KeywordScore = v })
}

// keywordScore is the Jaccard overlap of query tokens against the document's
// tokens, with a small boost when a query token appears in the title.
func keywordScore(queryTokens map[string]struct{}, doc Doc) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := tokenize(doc.Title)
	for _, f := range doc.Fields {
		for t := range tokenize(f) {
			docTokens[t] = struct{}{}
		}
	}
	if len(docTokens) == 0 {
		return 0
	}

	titleTokens := tokenize(doc.Title)
	intersection := 0
	inTitle := false
	for t := range queryTokens {
		if _, ok := docTokens[t]; ok {
			intersection++
			if _, ok := titleTokens[t]; ok {
				inTitle = true
			}
		}
	}
	if intersection == 0 {
		return 0
	}
	union := len(docTokens) + len(queryTokens) - intersection
	score := float64(intersection) / float64(union)
	if inTitle {
		score += titleBoost
	}
	if score > 1 {
		score = 1
	}
	return score
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if f != "" {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}
