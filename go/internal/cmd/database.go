package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/artphone/go/internal/dbconfig"
	"github.com/mcdev12/artphone/go/internal/store/pgstore"
)

func runMigrate(ctx context.Context) error {
	dbCfg := dbconfig.NewConfigFromEnv()
	log.Info().Str("database", dbCfg.String()).Msg("migrating room state schema")
	return pgstore.Migrate(ctx, dbCfg.DSN())
}
