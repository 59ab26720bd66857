// Package crm defines the tenant-facing entity schema the engine scans,
// merges and backs up. The engine never owns these records; the models exist
// so migrations, the integrity maps and the tests share one schema.
package crm

import (
	"time"

	"gorm.io/gorm"
)

// Tenant is an isolated customer account.
type Tenant struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:255;not null"`
	CreatedAt time.Time
}

// User is an operator inside a tenant.
type User struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:36;index;not null"`
	Name      string `gorm:"size:255;not null"`
	Email     string `gorm:"size:255;not null"`
	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Company is an organization record.
type Company struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	TenantID string `gorm:"size:36;index;not null"`
	OwnerID  *uint  `gorm:"index"`

	Name     string `gorm:"size:255;not null"`
	Website  string `gorm:"size:255"`
	Phone    string `gorm:"size:64"`
	Email    string `gorm:"size:255"`
	Address  string `gorm:"size:512"`
	Industry string `gorm:"size:128"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Contact is a person attached to a company.
type Contact struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:36;index;not null"`
	OwnerID   *uint  `gorm:"index"`
	CompanyID *uint  `gorm:"index"`

	FirstName string `gorm:"size:128;not null"`
	LastName  string `gorm:"size:128"`
	Email     string `gorm:"size:255"`
	Phone     string `gorm:"size:64"`
	JobTitle  string `gorm:"size:128"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Lead is an unqualified prospect.
type Lead struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	TenantID string `gorm:"size:36;index;not null"`
	OwnerID  *uint  `gorm:"index"`

	Name    string `gorm:"size:255;not null"`
	Email   string `gorm:"size:255"`
	Phone   string `gorm:"size:64"`
	Source  string `gorm:"size:128"`
	Status  string `gorm:"size:32"`
	Company string `gorm:"size:255"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Deal is an opportunity with a monetary amount.
type Deal struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:36;index;not null"`
	OwnerID   *uint  `gorm:"index"`
	CompanyID *uint  `gorm:"index"`
	ContactID *uint  `gorm:"index"`

	Title  string  `gorm:"size:255;not null"`
	Amount float64 `gorm:"not null;default:0"`
	Stage  string  `gorm:"size:32"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Task is a todo item assignable to a user and attachable to a company or contact.
type Task struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	TenantID   string `gorm:"size:36;index;not null"`
	AssignedTo *uint  `gorm:"index"`
	CompanyID  *uint  `gorm:"index"`
	ContactID  *uint  `gorm:"index"`

	Title   string `gorm:"size:255;not null"`
	DueDate *time.Time
	Done    bool

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Note is free-form text attached to a company or contact.
type Note struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TenantID  string `gorm:"size:36;index;not null"`
	AuthorID  *uint  `gorm:"index"`
	CompanyID *uint  `gorm:"index"`
	ContactID *uint  `gorm:"index"`

	Body string `gorm:"type:text"`

	CreatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// Tag is a label shared across companies through the company_tags join table.
type Tag struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	TenantID string `gorm:"size:36;index;not null"`
	Name     string `gorm:"size:128;not null"`

	CreatedAt time.Time
}

// CompanyTag is the many-to-many association between companies and tags.
type CompanyTag struct {
	CompanyID uint `gorm:"primaryKey"`
	TagID     uint `gorm:"primaryKey"`
}

// TableName keeps the join table name stable for raw relationship queries.
func (CompanyTag) TableName() string { return "company_tags" }

// AllModels returns every CRM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&Tenant{},
		&User{},
		&Company{},
		&Contact{},
		&Lead{},
		&Deal{},
		&Task{},
		&Note{},
		&Tag{},
		&CompanyTag{},
	}
}
