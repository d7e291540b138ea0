package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionDescriptor describes a registered target database.
// Credentials are encrypted at rest by the registry and are never
// returned through read operations or written to logs.
type ConnectionDescriptor struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Database   string    `json:"database"`
	Driver     string    `json:"driver"` // "postgres" or "sqlserver"
	Username   string    `json:"username"`
	Password   string    `json:"-"` // plaintext only in-flight; stored encrypted
	SSLEnabled bool      `json:"ssl_enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// Redacted returns a copy safe to hand to callers: the password is
// cleared so read operations can never leak credentials.
func (d ConnectionDescriptor) Redacted() ConnectionDescriptor {
	d.Password = ""
	return d
}
