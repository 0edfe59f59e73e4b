// Package syncdata moves work-item state between the embedded store and
// JSON files under the storage root: agent-visible exports, timestamped
// backups and restores.
package syncdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
	"github.com/vuxtra/mcp-jive/internal/storage"
	"github.com/vuxtra/mcp-jive/internal/storage/models"
)

// Sync directions
const (
	FileToDB      = "file_to_db"
	DBToFile      = "db_to_file"
	Bidirectional = "bidirectional"
)

// Service implements the jive_sync_data operations.
type Service struct {
	store  *storage.Store
	root   string
	logger *logrus.Logger
}

// NewService creates a sync service rooted at the storage path.
func NewService(store *storage.Store, root string, log *logrus.Logger) *Service {
	return &Service{store: store, root: root, logger: log}
}

type snapshot struct {
	Namespace    string                      `json:"namespace"`
	ExportedAt   time.Time                   `json:"exported_at"`
	WorkItems    []models.WorkItem           `json:"work_items"`
	Dependencies []models.WorkItemDependency `json:"dependencies"`
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Direction    string    `json:"direction"`
	ItemsWritten int       `json:"items_written"`
	ItemsRead    int       `json:"items_read"`
	File         string    `json:"file"`
	SyncedAt     time.Time `json:"synced_at"`
}

// Sync runs one synchronization pass in the requested direction. For
// bidirectional, file rows are merged into the store first (last writer
// wins) and the merged state written back out.
func (s *Service) Sync(ctx context.Context, ns, direction string) (*SyncResult, error) {
	switch direction {
	case FileToDB, DBToFile, Bidirectional:
	default:
		return nil, jiveerr.New(jiveerr.CodeValidation, "invalid sync_direction %q", direction)
	}

	result := &SyncResult{Direction: direction, File: s.syncFile(ns), SyncedAt: time.Now().UTC()}

	if direction == FileToDB || direction == Bidirectional {
		snap, err := s.readSnapshot(s.syncFile(ns))
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if snap != nil {
			for i := range snap.WorkItems {
				snap.WorkItems[i].Namespace = ns
				if err := s.store.Upsert(ctx, &snap.WorkItems[i]); err != nil {
					return nil, storeErr(err)
				}
			}
			for i := range snap.Dependencies {
				snap.Dependencies[i].Namespace = ns
				if err := s.store.Upsert(ctx, &snap.Dependencies[i]); err != nil {
					return nil, storeErr(err)
				}
			}
			result.ItemsRead = len(snap.WorkItems)
		}
	}

	if direction == DBToFile || direction == Bidirectional {
		snap, err := s.collect(ctx, ns)
		if err != nil {
			return nil, err
		}
		if err := s.writeSnapshot(s.syncFile(ns), snap); err != nil {
			return nil, err
		}
		result.ItemsWritten = len(snap.WorkItems)
	}

	s.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"direction": direction,
		"written":   result.ItemsWritten,
		"read":      result.ItemsRead,
	}).Info("Sync completed")
	return result, nil
}

// Status reports live counts and the export file's state.
type Status struct {
	Namespace    string     `json:"namespace"`
	WorkItems    int64      `json:"work_items"`
	Dependencies int64      `json:"dependencies"`
	FileExists   bool       `json:"file_exists"`
	FileModified *time.Time `json:"file_modified,omitempty"`
	FileItems    int        `json:"file_items"`
}

// GetStatus reports counts on both sides of the sync boundary.
func (s *Service) GetStatus(ctx context.Context, ns string) (*Status, error) {
	items, err := s.store.Count(ctx, &models.WorkItem{}, storage.Filter{"namespace": ns})
	if err != nil {
		return nil, storeErr(err)
	}
	deps, err := s.store.Count(ctx, &models.WorkItemDependency{}, storage.Filter{"namespace": ns})
	if err != nil {
		return nil, storeErr(err)
	}
	st := &Status{Namespace: ns, WorkItems: items, Dependencies: deps}
	if info, err := os.Stat(s.syncFile(ns)); err == nil {
		st.FileExists = true
		mod := info.ModTime().UTC()
		st.FileModified = &mod
		if snap, err := s.readSnapshot(s.syncFile(ns)); err == nil {
			st.FileItems = len(snap.WorkItems)
		}
	}
	return st, nil
}

// Backup writes a timestamped snapshot and returns its name.
func (s *Service) Backup(ctx context.Context, ns string) (string, error) {
	snap, err := s.collect(ctx, ns)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s", ns, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.backupDir(), name+".json")
	if err := s.writeSnapshot(path, snap); err != nil {
		return "", err
	}
	s.logger.WithFields(logrus.Fields{"namespace": ns, "backup": name}).Info("Backup written")
	return name, nil
}

// Restore merges a named backup into the store, last writer wins.
func (s *Service) Restore(ctx context.Context, ns, name string) (*SyncResult, error) {
	if name == "" {
		return nil, jiveerr.New(jiveerr.CodeValidation, "backup name is required")
	}
	path := filepath.Join(s.backupDir(), name+".json")
	snap, err := s.readSnapshot(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jiveerr.New(jiveerr.CodeNotFound, "backup %q not found", name)
		}
		return nil, err
	}
	for i := range snap.WorkItems {
		snap.WorkItems[i].Namespace = ns
		if err := s.store.Upsert(ctx, &snap.WorkItems[i]); err != nil {
			return nil, storeErr(err)
		}
	}
	for i := range snap.Dependencies {
		snap.Dependencies[i].Namespace = ns
		if err := s.store.Upsert(ctx, &snap.Dependencies[i]); err != nil {
			return nil, storeErr(err)
		}
	}
	return &SyncResult{
		Direction: FileToDB,
		ItemsRead: len(snap.WorkItems),
		File:      path,
		SyncedAt:  time.Now().UTC(),
	}, nil
}

// Backups lists available backup names, newest last.
func (s *Service) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name()[:len(e.Name())-len(".json")])
		}
	}
	sort.Strings(names)
	return names, nil
}

// Diff summarizes divergence between the export file and the live store.
type Diff struct {
	OnlyInStore []string `json:"only_in_store,omitempty"`
	OnlyInFile  []string `json:"only_in_file,omitempty"`
	InSync      bool     `json:"in_sync"`
}

// Validate diffs the export file against the live store by item id.
func (s *Service) Validate(ctx context.Context, ns string) (*Diff, error) {
	live, err := s.collect(ctx, ns)
	if err != nil {
		return nil, err
	}
	diff := &Diff{}
	fileIDs := make(map[string]struct{})
	if snap, err := s.readSnapshot(s.syncFile(ns)); err == nil {
		for _, item := range snap.WorkItems {
			fileIDs[item.ID.String()] = struct{}{}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	liveIDs := make(map[string]struct{})
	for _, item := range live.WorkItems {
		id := item.ID.String()
		liveIDs[id] = struct{}{}
		if _, ok := fileIDs[id]; !ok {
			diff.OnlyInStore = append(diff.OnlyInStore, id)
		}
	}
	for id := range fileIDs {
		if _, ok := liveIDs[id]; !ok {
			diff.OnlyInFile = append(diff.OnlyInFile, id)
		}
	}
	sort.Strings(diff.OnlyInStore)
	sort.Strings(diff.OnlyInFile)
	diff.InSync = len(diff.OnlyInStore) == 0 && len(diff.OnlyInFile) == 0
	return diff, nil
}

func (s *Service) collect(ctx context.Context, ns string) (*snapshot, error) {
	snap := &snapshot{Namespace: ns, ExportedAt: time.Now().UTC()}
	if err := s.store.Scan(ctx, &snap.WorkItems, storage.Filter{"namespace": ns}, storage.Query{OrderBy: "created_at"}); err != nil {
		return nil, storeErr(err)
	}
	if err := s.store.Scan(ctx, &snap.Dependencies, storage.Filter{"namespace": ns}, storage.Query{OrderBy: "created_at"}); err != nil {
		return nil, storeErr(err)
	}
	return snap, nil
}

func (s *Service) syncFile(ns string) string {
	return filepath.Join(s.root, "sync", ns, "work_items.json")
}

func (s *Service) backupDir() string {
	return filepath.Join(s.root, "backups")
}

func (s *Service) writeSnapshot(path string, snap *snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create sync directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

func (s *Service) readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, jiveerr.Wrap(jiveerr.CodeValidation, err, "snapshot file %s is not valid JSON", path)
	}
	return &snap, nil
}

func storeErr(err error) error {
	return jiveerr.Wrap(jiveerr.CodeStoreUnavailable, err, "store operation failed")
}
