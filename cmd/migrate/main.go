package main

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("create migrator: %v", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.WithError(err).Warn("error closing migrator")
		}
	}()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal("force requires a version")
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Fatalf("invalid version: %v", convErr)
		}
		err = m.Force(version)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil {
			logger.Fatalf("read version: %v", verr)
		}
		logger.WithFields(logrus.Fields{"version": v, "dirty": dirty}).Info("schema version")
		return
	default:
		logger.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		logger.Fatalf("%s: %v", cmd, err)
	}

	logger.WithField("command", cmd).Info("migrations complete")
}
