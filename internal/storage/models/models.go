package models

import (
	"time"

	"github.com/google/uuid"
)

// Work item types, ordered initiative > epic > feature > story > task.
const (
	TypeInitiative = "initiative"
	TypeEpic       = "epic"
	TypeFeature    = "feature"
	TypeStory      = "story"
	TypeTask       = "task"
)

// Work item statuses
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusBlocked    = "blocked"
	StatusCancelled  = "cancelled"
)

// Priorities
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Complexity levels
const (
	ComplexityTrivial     = "trivial"
	ComplexitySimple      = "simple"
	ComplexityModerate    = "moderate"
	ComplexityComplex     = "complex"
	ComplexityVeryComplex = "very_complex"
)

// Dependency types
const (
	DepBlocks    = "blocks"
	DepBlockedBy = "blocked_by"
	DepRelated   = "related"
	DepSubtaskOf = "subtask_of"
)

// Execution states
const (
	ExecQueued    = "queued"
	ExecRunning   = "running"
	ExecCompleted = "completed"
	ExecFailed    = "failed"
	ExecCancelled = "cancelled"
)

// TypeRank maps a work item type to its depth in the ordered chain.
// Lower rank means closer to the root.
func TypeRank(itemType string) int {
	switch itemType {
	case TypeInitiative:
		return 0
	case TypeEpic:
		return 1
	case TypeFeature:
		return 2
	case TypeStory:
		return 3
	case TypeTask:
		return 4
	default:
		return -1
	}
}

// ValidItemType reports whether itemType is one of the closed set.
func ValidItemType(itemType string) bool { return TypeRank(itemType) >= 0 }

// ValidStatus reports whether status is one of the closed set.
func ValidStatus(status string) bool {
	switch status {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// WorkItem represents a unit of project work
type WorkItem struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Namespace          string     `gorm:"index:idx_work_items_ns;not null" json:"namespace"`
	ItemType           string     `gorm:"not null" json:"item_type"` // initiative, epic, feature, story, task
	Title              string     `gorm:"not null" json:"title"`
	Description        string     `gorm:"type:text" json:"description"`
	Status             string     `gorm:"default:'not_started'" json:"status"`
	Priority           string     `gorm:"default:'medium'" json:"priority"`
	ParentID           *uuid.UUID `gorm:"type:uuid;index" json:"parent_id"`
	SequenceNumber     int        `gorm:"default:0" json:"sequence_number"`
	OrderIndex         int        `gorm:"default:0" json:"order_index"`
	ProgressPercentage float64    `gorm:"default:0" json:"progress_percentage"` // 0-100
	Complexity         string     `gorm:"default:'moderate'" json:"complexity"`
	ContextTags        []string   `gorm:"serializer:json" json:"context_tags"`
	AcceptanceCriteria []string   `gorm:"serializer:json" json:"acceptance_criteria"`
	EffortEstimate     *float64   `json:"effort_estimate,omitempty"` // hours
	Tags               []string   `gorm:"serializer:json" json:"tags"`
	Assignee           string     `json:"assignee,omitempty"`
	Embedding          []byte     `gorm:"type:blob" json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// WorkItemDependency is an edge in the dependency graph. blocked_by edges
// are normalized to blocks at insert time, so stored rows only carry
// blocks, related or subtask_of.
type WorkItemDependency struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Namespace      string    `gorm:"index:idx_work_item_deps_ns;not null" json:"namespace"`
	SourceID       uuid.UUID `gorm:"type:uuid;index;not null" json:"source_id"`
	TargetID       uuid.UUID `gorm:"type:uuid;index;not null" json:"target_id"`
	DependencyType string    `gorm:"not null" json:"dependency_type"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExecutionLog is an append-only record of a work item execution
type ExecutionLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Namespace  string     `gorm:"index:idx_execution_logs_ns;not null" json:"namespace"`
	WorkItemID uuid.UUID  `gorm:"type:uuid;index;not null" json:"work_item_id"`
	State      string     `gorm:"default:'queued'" json:"state"` // queued, running, completed, failed, cancelled
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	Artifacts  []string   `gorm:"serializer:json" json:"artifacts"`
	Notes      string     `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ProgressEvent is an append-only progress sample for an entity
type ProgressEvent struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Namespace          string    `gorm:"index:idx_progress_events_ns;not null" json:"namespace"`
	EntityID           uuid.UUID `gorm:"type:uuid;index;not null" json:"entity_id"`
	EntityType         string    `gorm:"not null" json:"entity_type"`
	ProgressPercentage float64   `json:"progress_percentage"`
	Status             string    `json:"status"`
	Notes              string    `gorm:"type:text" json:"notes,omitempty"`
	Blockers           []string  `gorm:"serializer:json" json:"blockers"`
	RecordedAt         time.Time `json:"recorded_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Milestone groups work items toward a target date
type Milestone struct {
	ID                    uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Namespace             string      `gorm:"index:idx_milestones_ns;not null" json:"namespace"`
	Title                 string      `gorm:"not null" json:"title"`
	Description           string      `gorm:"type:text" json:"description"`
	MilestoneType         string      `json:"milestone_type"`
	TargetDate            time.Time   `json:"target_date"`
	AssociatedWorkItemIDs []uuid.UUID `gorm:"serializer:json" json:"associated_work_item_ids"`
	SuccessCriteria       []string    `gorm:"serializer:json" json:"success_criteria"`
	Priority              string      `gorm:"default:'medium'" json:"priority"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// ArchitectureItem is a slug-addressed architecture memory entry
type ArchitectureItem struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"-"`
	Namespace     string      `gorm:"uniqueIndex:idx_arch_ns_slug;not null" json:"namespace"`
	UniqueSlug    string      `gorm:"uniqueIndex:idx_arch_ns_slug;not null" json:"unique_slug"`
	Title         string      `gorm:"not null" json:"title"`
	AIWhenToUse   []string    `gorm:"serializer:json" json:"ai_when_to_use"`
	AIRequirements string     `gorm:"type:text" json:"ai_requirements"`
	ChildrenSlugs []string    `gorm:"serializer:json" json:"children_slugs"`
	RelatedSlugs  []string    `gorm:"serializer:json" json:"related_slugs"`
	LinkedEpicIDs []uuid.UUID `gorm:"serializer:json" json:"linked_epic_ids"`
	Keywords      []string    `gorm:"serializer:json" json:"keywords"`
	Tags          []string    `gorm:"serializer:json" json:"tags"`
	Embedding     []byte      `gorm:"type:blob" json:"-"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TroubleshootItem is a slug-addressed troubleshooting memory entry
type TroubleshootItem struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	Namespace    string    `gorm:"uniqueIndex:idx_tshoot_ns_slug;not null" json:"namespace"`
	UniqueSlug   string    `gorm:"uniqueIndex:idx_tshoot_ns_slug;not null" json:"unique_slug"`
	Title        string    `gorm:"not null" json:"title"`
	AIUseCase    string    `gorm:"type:text" json:"ai_use_case"`
	AISolutions  string    `gorm:"type:text" json:"ai_solutions"`
	Keywords     []string  `gorm:"serializer:json" json:"keywords"`
	Tags         []string  `gorm:"serializer:json" json:"tags"`
	UsageCount   int       `gorm:"default:0" json:"usage_count"`
	SuccessCount int       `gorm:"default:0" json:"success_count"`
	Embedding    []byte    `gorm:"type:blob" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName methods for custom table names
func (WorkItem) TableName() string           { return "work_items" }
func (WorkItemDependency) TableName() string { return "work_item_dependencies" }
func (ExecutionLog) TableName() string       { return "execution_logs" }
func (ProgressEvent) TableName() string      { return "progress_events" }
func (Milestone) TableName() string          { return "milestones" }
func (ArchitectureItem) TableName() string   { return "architecture_items" }
func (TroubleshootItem) TableName() string   { return "troubleshoot_items" }
