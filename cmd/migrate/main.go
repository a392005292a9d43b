// The migrate binary manages the conversation-store schema. With no
// arguments it applies every pending migration; subcommands cover the
// operational cases:
//
//	migrate              apply all pending migrations
//	migrate down <n>     roll back n migrations
//	migrate version      print the current schema version
//	migrate force <v>    clear the dirty flag after a failed deploy
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/brightline-ai/concierge/migrations"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "", "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("up: %w", err)
		}
		return report(m, "schema up to date")
	case "down":
		steps, err := intArg(args, 1)
		if err != nil {
			return fmt.Errorf("down: %w", err)
		}
		if err := m.Steps(-steps); err != nil {
			return fmt.Errorf("down %d: %w", steps, err)
		}
		return report(m, fmt.Sprintf("rolled back %d migration(s)", steps))
	case "version":
		return report(m, "")
	case "force":
		version, err := intArg(args, 1)
		if err != nil {
			return fmt.Errorf("force: %w", err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force %d: %w", version, err)
		}
		return report(m, fmt.Sprintf("forced version to %d", version))
	default:
		return fmt.Errorf("unknown command %q (want up, down <n>, version, or force <v>)", cmd)
	}
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func intArg(args []string, i int) (int, error) {
	if len(args) <= i {
		return 0, errors.New("numeric argument required")
	}
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid argument %q", args[i])
	}
	return n, nil
}

// report prints the outcome plus the schema version the database ended on.
func report(m *migrate.Migrate, outcome string) error {
	if outcome != "" {
		fmt.Println(outcome)
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("schema version: none")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if dirty {
		fmt.Printf("schema version: %d (dirty, run force after fixing)\n", version)
		return nil
	}
	fmt.Printf("schema version: %d\n", version)
	return nil
}
