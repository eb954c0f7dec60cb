package entity

import "time"

// Department is reference data that workflow steps and budget rules point at
type Department struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

// IsDeleted reports whether the department was soft-deleted
func (d *Department) IsDeleted() bool {
	return d.DeletedAt != nil
}
