package dialect

import "fmt"

// GetDialect returns the Dialect implementation for a driver name.
func GetDialect(driver string) (Dialect, error) {
	switch driver {
	case "", "mysql", "mariadb":
		return &MysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q: only MySQL-compatible servers can be dumped", driver)
	}
}

// Ensure interface implementation
var _ Dialect = (*MysqlDialect)(nil)
