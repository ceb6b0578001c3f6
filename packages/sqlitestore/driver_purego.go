//go:build !cgo_sqlite

package sqlitestore

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
