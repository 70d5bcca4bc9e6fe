package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/padraicbc/racedata/config"
	"github.com/padraicbc/racedata/models"
)

// Setup opens the configured database (PostgreSQL by default, SQLite when
// DB_DRIVER=sqlite) and exits if it cannot be reached.
func Setup(cfg *config.Config) *bun.DB {
	var db *bun.DB
	switch cfg.DBDriver {
	case "sqlite":
		var err error
		db, err = OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open sqlite database:", err)
		}
	default:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.PostgresDSN())))
		db = bun.NewDB(sqldb, pgdialect.New())
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(context.Background()); err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	return db
}

// OpenSQLite opens a SQLite database at path; ":memory:" gives a private
// in-memory database.
func OpenSQLite(path string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection keeps transactions serial.
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// CreateTables creates all tables in dependency order.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.Race)(nil),
		(*models.Driver)(nil),
		(*models.Entrant)(nil),
		(*models.RaceResult)(nil),
		(*models.Lap)(nil),
		(*models.TransponderOverride)(nil),
		(*models.DriverLink)(nil),
		(*models.DriverLinkEvent)(nil),
	}

	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*models.Race)(nil), "races_event_idx", []string{"event_id"}},
		{(*models.Entrant)(nil), "entrants_driver_idx", []string{"driver_id"}},
		{(*models.RaceResult)(nil), "race_results_race_idx", []string{"race_id"}},
		{(*models.Lap)(nil), "laps_race_idx", []string{"race_id"}},
		{(*models.TransponderOverride)(nil), "overrides_driver_event_idx", []string{"driver_id", "event_id"}},
		{(*models.DriverLinkEvent)(nil), "driver_link_events_event_idx", []string{"event_id"}},
	}
	for _, ix := range indexes {
		_, err := db.NewCreateIndex().Model(ix.model).Index(ix.name).Column(ix.columns...).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("creating index %s: %w", ix.name, err)
		}
	}

	return nil
}
