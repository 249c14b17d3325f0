package pg

import (
	_ "github.com/lib/pq"
	"github.com/nimasrn/smpp-transport/pkg/logger"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

// Migrate runs a goose command ("up", "down", "status", ...) against dir.
func Migrate(cfg Config, dir, command string) error {
	goose.SetLogger(logger.GetLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if command == "" {
		command = "up"
	}
	return errors.Wrapf(goose.Run(command, db, dir), "goose %s", command)
}
