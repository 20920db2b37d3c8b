package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/store"
	"github.com/hrygo/vecmem/store/db/postgres"
	"github.com/hrygo/vecmem/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite", "sqlite3":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
