package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vuxtra/mcp-jive/internal/config"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// Filter maps column names to required scalar values.
type Filter map[string]interface{}

// Query carries paging and ordering options for Scan.
type Query struct {
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Store is the uniform adapter over the embedded table store. All access to
// persisted rows goes through it; repositories never touch gorm directly.
type Store struct {
	db      *gorm.DB
	logger  *logrus.Logger
	breaker *gobreaker.CircuitBreaker

	mu         sync.RWMutex
	namespaces map[string]struct{}
}

// NewStore opens the embedded database under the configured storage root and
// migrates all tables.
func NewStore(cfg config.StorageConfig, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	gormLogger := gormlogger.New(
		log,
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL", cfg.DatabaseFile(), cfg.BusyTimeout)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serializes writers; a single connection avoids lock churn.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store := &Store{
		db:         db,
		logger:     log,
		namespaces: make(map[string]struct{}),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "store",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// caller errors (not found, constraint) are not store faults
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				_, callerFault := err.(*callerError)
				return callerFault
			},
		}),
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.WithField("path", cfg.DatabaseFile()).Info("Embedded store opened")
	return store, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&models.WorkItem{},
		&models.WorkItemDependency{},
		&models.ExecutionLog{},
		&models.ProgressEvent{},
		&models.Milestone{},
		&models.ArchitectureItem{},
		&models.TroubleshootItem{},
	)
}

// Open registers a namespace. Tables are shared with a namespace column, so
// this only maintains the read-mostly cache of known tenants; it is
// idempotent and entries are never evicted.
func (s *Store) Open(_ context.Context, namespace string) {
	s.mu.RLock()
	_, ok := s.namespaces[namespace]
	s.mu.RUnlock()
	if ok {
		return
	}

	s.mu.Lock()
	s.namespaces[namespace] = struct{}{}
	s.mu.Unlock()
	s.logger.WithField("namespace", namespace).Debug("Namespace opened")
}

// Namespaces returns all namespaces seen by this process.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// execute funnels a store call through the circuit breaker and normalizes
// driver errors into the adapter's sentinel errors.
func (s *Store) execute(fn func() error) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			// Not-found and constraint failures are caller errors, not
			// breaker-relevant faults.
			if mapped := mapError(err); errors.Is(mapped, ErrNotFound) || errors.Is(mapped, ErrConstraint) {
				return nil, &callerError{mapped}
			}
			return nil, err
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}
	if ce, ok := err.(*callerError); ok {
		return ce.err
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return mapError(err)
}

type callerError struct{ err error }

func (e *callerError) Error() string { return e.err.Error() }

func mapError(err error) error {
	if err == gorm.ErrRecordNotFound {
		return ErrNotFound
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %s", ErrConstraint, err.Error())
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy") || strings.Contains(msg, "i/o"):
		return fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	default:
		return err
	}
}

// Get loads a single row by filter into entity.
func (s *Store) Get(ctx context.Context, entity interface{}, filter Filter) error {
	return s.execute(func() error {
		return applyFilter(s.db.WithContext(ctx), filter).First(entity).Error
	})
}

// Upsert writes a row, resolving concurrent writes to the same primary key
// last-writer-wins by updated_at; an equal timestamp lets the incoming row
// through, which is deterministic because both carry the same primary key.
func (s *Store) Upsert(ctx context.Context, entity interface{}) error {
	return s.execute(func() error {
		id, newUpdated, ok := rowVersion(entity)
		if ok {
			existing := reflect.New(reflect.TypeOf(entity).Elem()).Interface()
			err := s.db.WithContext(ctx).First(existing, "id = ?", id).Error
			if err == nil {
				_, oldUpdated, _ := rowVersion(existing)
				if oldUpdated.After(newUpdated) {
					s.logger.WithField("id", id).Debug("Upsert superseded by newer row")
					return nil
				}
				return s.db.WithContext(ctx).Save(entity).Error
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
		}
		return s.db.WithContext(ctx).Create(entity).Error
	})
}

// UpsertBatch writes rows one by one under the same versioning rule.
func (s *Store) UpsertBatch(ctx context.Context, entities []interface{}) error {
	for _, e := range entities {
		if err := s.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes rows matching the filter. Deleting a missing row is not an
// error.
func (s *Store) Delete(ctx context.Context, entity interface{}, filter Filter) error {
	return s.execute(func() error {
		return applyFilter(s.db.WithContext(ctx).Model(entity), filter).Delete(entity).Error
	})
}

// Scan loads rows matching the filter into dest (a pointer to a slice),
// applying ordering and paging.
func (s *Store) Scan(ctx context.Context, dest interface{}, filter Filter, q Query) error {
	return s.execute(func() error {
		query := applyFilter(s.db.WithContext(ctx), filter)
		if q.OrderBy != "" {
			dir := "asc"
			if q.Desc {
				dir = "desc"
			}
			query = query.Order(fmt.Sprintf("%s %s", q.OrderBy, dir))
		}
		if q.Limit > 0 {
			query = query.Limit(q.Limit)
		}
		if q.Offset > 0 {
			query = query.Offset(q.Offset)
		}
		return query.Find(dest).Error
	})
}

// Count returns the number of rows matching the filter.
func (s *Store) Count(ctx context.Context, entity interface{}, filter Filter) (int64, error) {
	var count int64
	err := s.execute(func() error {
		return applyFilter(s.db.WithContext(ctx).Model(entity), filter).Count(&count).Error
	})
	return count, err
}

// VectorSearch scans rows matching the filter, ranks them by cosine distance
// to queryVec, truncates dest to the k nearest and returns the aligned
// distances. A zero query vector matches nothing.
func (s *Store) VectorSearch(ctx context.Context, dest interface{}, filter Filter, queryVec []float32, k int) ([]float64, error) {
	if IsZeroVector(queryVec) {
		truncateSlice(dest, 0)
		return nil, nil
	}
	if err := s.Scan(ctx, dest, filter, Query{}); err != nil {
		return nil, err
	}

	slice := reflect.ValueOf(dest).Elem()
	type scored struct {
		row  reflect.Value
		dist float64
	}
	scoredRows := make([]scored, 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		row := slice.Index(i)
		emb := row.FieldByName("Embedding")
		if !emb.IsValid() {
			continue
		}
		vec := DecodeVector(emb.Bytes())
		if len(vec) == 0 {
			continue
		}
		scoredRows = append(scoredRows, scored{row: row, dist: CosineDistance(queryVec, vec)})
	}

	sort.SliceStable(scoredRows, func(i, j int) bool { return scoredRows[i].dist < scoredRows[j].dist })
	if k > 0 && len(scoredRows) > k {
		scoredRows = scoredRows[:k]
	}

	out := reflect.MakeSlice(slice.Type(), len(scoredRows), len(scoredRows))
	distances := make([]float64, len(scoredRows))
	for i, sr := range scoredRows {
		out.Index(i).Set(sr.row)
		distances[i] = sr.dist
	}
	slice.Set(out)
	return distances, nil
}

// Ping verifies the underlying database is reachable.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.logger.Info("Embedded store closed")
	return nil
}

func applyFilter(db *gorm.DB, filter Filter) *gorm.DB {
	for key, value := range filter {
		if value == nil {
			db = db.Where(fmt.Sprintf("%s IS NULL", key))
			continue
		}
		db = db.Where(fmt.Sprintf("%s = ?", key), value)
	}
	return db
}

// rowVersion extracts the primary key and updated_at timestamp via
// reflection; ok is false for entities without both fields.
func rowVersion(entity interface{}) (id string, updated time.Time, ok bool) {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", time.Time{}, false
	}
	idField := v.FieldByName("ID")
	upField := v.FieldByName("UpdatedAt")
	if !idField.IsValid() || !upField.IsValid() {
		return "", time.Time{}, false
	}
	t, tok := upField.Interface().(time.Time)
	if !tok {
		return "", time.Time{}, false
	}
	return fmt.Sprintf("%v", idField.Interface()), t, true
}

func truncateSlice(dest interface{}, n int) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Slice {
		return
	}
	v.Elem().Set(reflect.MakeSlice(v.Elem().Type(), n, n))
}
