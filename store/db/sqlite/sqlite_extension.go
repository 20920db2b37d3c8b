//go:build cgo
// +build cgo

package sqlite

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
)

const mattnAvailable = true

// mattnDriverName is go-sqlite3 with vec_cosine installed on every connection.
const mattnDriverName = "sqlite3_vecmem"

func init() {
	sql.Register(mattnDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(cosineFunc, func(a, b any) any {
				return vecCosine(a, b)
			}, true)
		},
	})
}
