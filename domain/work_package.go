package domain

import "time"

// WorkPackage is the primary journaled entity.
type WorkPackage struct {
	ID               int64      `json:"id"`
	LockVersion      int        `json:"lock_version"`
	TypeID           int64      `json:"type_id"`
	ProjectID        int64      `json:"project_id"`
	Subject          string     `json:"subject"`
	Description      string     `json:"description,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	CategoryID       *int64     `json:"category_id,omitempty"`
	StatusID         int64      `json:"status_id"`
	AssignedToID     *int64     `json:"assigned_to_id,omitempty"`
	PriorityID       int64      `json:"priority_id"`
	VersionID        *int64     `json:"version_id,omitempty"`
	AuthorID         int64      `json:"author_id"`
	DoneRatio        int        `json:"done_ratio"`
	EstimatedHours   *float64   `json:"estimated_hours,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	ParentID         *int64     `json:"parent_id,omitempty"`
	ResponsibleID    *int64     `json:"responsible_id,omitempty"`
	ScheduleManually bool       `json:"schedule_manually"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (w *WorkPackage) JournalRef() Ref {
	return Ref{Kind: KindWorkPackage, ID: w.ID}
}

func (w *WorkPackage) JournalAttributes() map[string]any {
	return map[string]any{
		"id":                w.ID,
		"lock_version":      w.LockVersion,
		"updated_at":        w.UpdatedAt,
		"type_id":           w.TypeID,
		"project_id":        w.ProjectID,
		"subject":           w.Subject,
		"description":       w.Description,
		"due_date":          w.DueDate,
		"category_id":       w.CategoryID,
		"status_id":         w.StatusID,
		"assigned_to_id":    w.AssignedToID,
		"priority_id":       w.PriorityID,
		"version_id":        w.VersionID,
		"author_id":         w.AuthorID,
		"done_ratio":        w.DoneRatio,
		"estimated_hours":   w.EstimatedHours,
		"start_date":        w.StartDate,
		"parent_id":         w.ParentID,
		"responsible_id":    w.ResponsibleID,
		"schedule_manually": w.ScheduleManually,
	}
}

// Record is a schema-driven journable backed by a raw attribute map.
// Storage adapters return it when reading the current state of any kind.
type Record struct {
	Ref        Ref
	Attributes map[string]any
}

func (r *Record) JournalRef() Ref {
	return r.Ref
}

func (r *Record) JournalAttributes() map[string]any {
	return r.Attributes
}
