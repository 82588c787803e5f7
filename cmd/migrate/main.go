package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		action     = flag.String("action", "up", "migration action: up, down, version, force")
		dir        = flag.String("dir", "migrations", "migrations directory")
		forceTo    = flag.Int("force-version", 0, "version to force (with -action force)")
	)
	flag.Parse()

	if err := run(*configPath, *action, *dir, *forceTo); err != nil {
		fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, action, dir string, forceTo int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+dir, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("opening migrations: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil {
			return verr
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	case "force":
		err = m.Force(forceTo)
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("no pending migrations")
		return nil
	}
	return err
}
