// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency stores the response of a previously completed request, keyed
// by (scope, key). Scope identifies the caller and route so the same key can
// be reused on different endpoints. A stored response is replayed verbatim
// until ExpiresAt.
type Idempotency struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Scope     string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_scope_key,priority:1"`
	Key       string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_scope_key,priority:2"`
	Status    int       `gorm:"not null"`
	Body      []byte
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
