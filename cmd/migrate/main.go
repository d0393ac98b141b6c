package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db"
	"github.com/subradar/subradar-backend/pkg/logger"
	"github.com/subradar/subradar-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory; the default reads the embedded set")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate work on files only.
	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name, time.Now())
		if err != nil {
			fail("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			fail("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	if cfg.FeatureFlags.UseSQLite {
		fail("goose migrations target postgres; sqlite mode uses auto-migrate on startup")
	}

	dbClient, err := db.New(ctx, cfg.DB, false, logg)
	requireResource(logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(logg, "sql database", err)

	runner, err := migrate.NewRunner(sqlDB, *dir)
	requireResource(logg, "goose provider", err)

	switch *cmd {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			fail("%v", err)
		}
		logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")
	case "down":
		if err := runner.Down(ctx); err != nil {
			fail("%v", err)
		}
		logg.Info(ctx, "rolled back one migration")
	case "status":
		states, err := runner.Status(ctx)
		if err != nil {
			fail("%v", err)
		}
		for _, st := range states {
			mark := "pending"
			if st.Applied {
				mark = "applied"
			}
			fmt.Printf("%-8s %d %s\n", mark, st.Version, st.Path)
		}
	case "version":
		if *version == "" {
			fail("missing -version for version command")
		}
		if err := runner.To(ctx, *version); err != nil {
			fail("%v", err)
		}
		logg.Info(logg.WithField(ctx, "version", *version), "schema at requested version")
	default:
		fail("unknown -cmd value: %s", *cmd)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
