//go:build !cgo
// +build !cgo

package sqlite

// go-sqlite3 cannot be linked without cgo; Open rejects DriverMattn.
const mattnAvailable = false

const mattnDriverName = ""
