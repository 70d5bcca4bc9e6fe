// cmd/migrate/main.go
// Imports users, drivers, events and transponder overrides from the legacy
// MySQL timing database into the racedata database.
//
// Usage:
//
//	MYSQL_DSN="user:pass@tcp(host:3306)/timing?parseTime=true" \
//	DB_PASS="pgpass" \
//	go run ./cmd/migrate
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"

	"github.com/padraicbc/racedata/config"
	bundb "github.com/padraicbc/racedata/db"
	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

const batchSize = 500

func main() {
	ctx := context.Background()

	cfg := config.Load()

	// --- MySQL ---
	if cfg.MySQLDSN == "" {
		log.Fatal("MYSQL_DSN required, e.g.: user:pass@tcp(host:3306)/timing?parseTime=true")
	}
	myDB, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("open mysql: %v", err)
	}
	defer myDB.Close()
	myDB.SetMaxOpenConns(4)
	if err := myDB.PingContext(ctx); err != nil {
		log.Fatalf("ping mysql: %v", err)
	}
	log.Println("connected to MySQL")

	// --- Target ---
	db := bundb.Setup(cfg)
	defer db.Close()
	log.Printf("connected to %s", cfg.DBDriver)

	// Create tables (idempotent)
	if err := bundb.CreateTables(ctx, db); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	steps := []struct {
		name string
		fn   func() (int, error)
	}{
		{"users", func() (int, error) { return migrateUsers(ctx, myDB, db) }},
		{"drivers", func() (int, error) { return migrateDrivers(ctx, myDB, db) }},
		{"events", func() (int, error) { return migrateEvents(ctx, myDB, db) }},
		{"overrides", func() (int, error) { return migrateOverrides(ctx, myDB, db) }},
	}

	for _, s := range steps {
		n, err := s.fn()
		if err != nil {
			log.Fatalf("migrate %s: %v", s.name, err)
		}
		log.Printf("%-15s  %d rows migrated", s.name, n)
	}

	if cfg.DBDriver == "postgres" {
		resetSequences(ctx, db)
	}
	log.Println("migration complete")
}

// --- helpers ---

func nullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

// nullStr returns nil for NULL and blank strings.
func nullStr(n sql.NullString) *string {
	if !n.Valid || strings.TrimSpace(n.String) == "" {
		return nil
	}
	s := strings.TrimSpace(n.String)
	return &s
}

// bulkInsert inserts a batch, skipping rows that already exist (idempotent re-runs).
func bulkInsert[T any](ctx context.Context, db *bun.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := db.NewInsert().Model(&rows).On("CONFLICT DO NOTHING").Exec(ctx)
	return err
}

// copyRows scans every row of query with scan and inserts them in batches.
func copyRows[T any](ctx context.Context, myDB *sql.DB, db *bun.DB, query string, scan func(*sql.Rows) (T, error)) (int, error) {
	rows, err := myDB.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var batch []T
	total := 0
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return total, err
		}
		batch = append(batch, r)
		if len(batch) >= batchSize {
			if err := bulkInsert(ctx, db, batch); err != nil {
				return total, err
			}
			total += len(batch)
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return total, err
	}
	if err := bulkInsert(ctx, db, batch); err != nil {
		return total, err
	}
	return total + len(batch), nil
}

// --- per-table migrations ---

func migrateUsers(ctx context.Context, myDB *sql.DB, db *bun.DB) (int, error) {
	return copyRows(ctx, myDB, db,
		"SELECT id, username, password, driver_name, transponder FROM users",
		func(rows *sql.Rows) (models.User, error) {
			var (
				u           models.User
				driverName  sql.NullString
				transponder sql.NullString
			)
			err := rows.Scan(&u.ID, &u.Username, &u.Password, &driverName, &transponder)
			u.DriverName = strings.TrimSpace(driverName.String)
			u.NormalizedName = matching.NormalizeName(u.DriverName)
			u.Transponder = nullStr(transponder)
			return u, err
		})
}

func migrateDrivers(ctx context.Context, myDB *sql.DB, db *bun.DB) (int, error) {
	return copyRows(ctx, myDB, db,
		"SELECT id, name, transponder FROM drivers",
		func(rows *sql.Rows) (models.Driver, error) {
			var (
				d           models.Driver
				transponder sql.NullString
			)
			err := rows.Scan(&d.ID, &d.DisplayName, &transponder)
			d.DisplayName = strings.TrimSpace(d.DisplayName)
			d.NormalizedName = matching.NormalizeName(d.DisplayName)
			d.Transponder = nullStr(transponder)
			d.Source = models.DriverSourceExternal
			return d, err
		})
}

// migrateEvents copies event identity only. Depth starts at none so every
// event is re-ingested through the worker.
func migrateEvents(ctx context.Context, myDB *sql.DB, db *bun.DB) (int, error) {
	return copyRows(ctx, myDB, db,
		"SELECT id, source_event_id, track_id, name FROM events",
		func(rows *sql.Rows) (models.Event, error) {
			var ev models.Event
			err := rows.Scan(&ev.ID, &ev.SourceEventID, &ev.TrackID, &ev.Name)
			ev.Depth = models.DepthNone
			return ev, err
		})
}

func migrateOverrides(ctx context.Context, myDB *sql.DB, db *bun.DB) (int, error) {
	return copyRows(ctx, myDB, db,
		"SELECT id, driver_id, event_id, effective_from_race_id, transponder, created_at, created_by FROM transponder_overrides",
		func(rows *sql.Rows) (models.TransponderOverride, error) {
			var (
				o         models.TransponderOverride
				fromRace  sql.NullInt64
				createdAt sql.NullTime
				createdBy sql.NullString
			)
			err := rows.Scan(&o.ID, &o.DriverID, &o.EventID, &fromRace, &o.Transponder, &createdAt, &createdBy)
			o.EffectiveFromRaceID = nullInt64(fromRace)
			o.Transponder = strings.TrimSpace(o.Transponder)
			o.CreatedAt = createdAt.Time.UTC()
			if !createdAt.Valid {
				o.CreatedAt = time.Unix(0, 0).UTC()
			}
			o.CreatedBy = createdBy.String
			return o, err
		})
}

// resetSequences advances each PG sequence to MAX(id) so new inserts don't conflict.
func resetSequences(ctx context.Context, db *bun.DB) {
	for _, table := range []string{"users", "drivers", "events", "transponder_overrides"} {
		q := fmt.Sprintf(
			"SELECT setval('%s_id_seq', COALESCE((SELECT MAX(id) FROM %s), 1))",
			table, table,
		)
		if _, err := db.ExecContext(ctx, q); err != nil {
			log.Printf("reset seq %s: %v", table, err)
		}
	}
	log.Println("sequences reset")
}
