package postgres

import "github.com/privsense/privsense/pkg/dialect"

func init() {
	dialect.Register("postgres", New)
}
