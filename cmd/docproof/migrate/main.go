package main

import (
	"context"
	"flag"
	"log"

	_ "github.com/joho/godotenv/autoload"
	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/docproof/pkg/config"
	"github.com/chainsafe/docproof/pkg/migrations/proofdb"
	"github.com/chainsafe/docproof/pkg/pgutil"
	mghelper "github.com/chainsafe/docproof/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("error creating logger: %s", err.Error())
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	db, err := pgutil.ConnectDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	logger.Sugar().Infof("Running migrations for proof database (%s)", cfg.Database.Database)

	migrator := migrate.NewMigrator(db, proofdb.Migrations)
	if err := mghelper.RunMigrations(ctx, migrator, logger, flag.Args()...); err != nil {
		mghelper.Exitf("%s", err.Error())
	}
}
