package sqlserver

import "github.com/privsense/privsense/pkg/dialect"

func init() {
	dialect.Register("sqlserver", New)
}
