package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

func main() {
	var databaseURL, migrationsPath, command string

	flag.StringVar(&databaseURL, "database", "", "Database URL (или DATABASE_URL)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("database url is required: use -database or DATABASE_URL")
	}

	m, err := migrate.New("file://"+migrationsPath, driverURL(databaseURL))
	if err != nil {
		logger.Fatal("failed to create migration instance", zap.Error(err))
	}
	defer m.Close()

	log := logger.With(zap.String("command", command), zap.String("path", migrationsPath))

	switch command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migrations to run, database is up to date")
			return
		}
		if err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
		log.Info("migrations completed")

	case "down":
		if err = m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("failed to rollback migrations", zap.Error(err))
		}
		log.Info("rollback completed")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("failed to get version", zap.Error(err))
		}
		log.Info("current version", zap.Uint("version", version), zap.Bool("dirty", dirty))

	case "force":
		if flag.NArg() < 1 {
			log.Fatal("force requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			log.Fatal("invalid version number", zap.Error(err))
		}
		if err := m.Force(version); err != nil {
			log.Fatal("failed to force version", zap.Error(err))
		}
		log.Info("forced version", zap.Int("version", version))

	default:
		log.Fatal(fmt.Sprintf("unknown command %q (use: up, down, version, force)", command))
	}
}

// driverURL: драйвер pgx/v5 регистрируется под схемой pgx5://
func driverURL(u string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(u, prefix) {
			return "pgx5://" + strings.TrimPrefix(u, prefix)
		}
	}
	return u
}
