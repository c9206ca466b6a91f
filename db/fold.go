package db

import (
	"database/sql/driver"
	"strings"

	"modernc.org/sqlite"

	"github.com/user/postboard/config"
)

// sqliteLowerFunc lower-cases with Unicode rules. SQLite's built-in LOWER only folds ASCII.
const sqliteLowerFunc = "unicode_lower"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(sqliteLowerFunc, 1, unicodeLower); err != nil {
		panic(err)
	}
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// Lower wraps expr in the driver's Unicode-aware lower-case function.
func (d *DB) Lower(expr string) string {
	if d.Driver == config.DriverSQLite {
		return sqliteLowerFunc + "(" + expr + ")"
	}
	return "LOWER(" + expr + ")"
}
