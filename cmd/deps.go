package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/config"
	"example.com/backstage/services/aggregation/internal/cache"
	"example.com/backstage/services/aggregation/internal/db"
	"example.com/backstage/services/aggregation/internal/repository"
	"example.com/backstage/services/aggregation/internal/session"
)

// runtimeDeps are the long-lived components shared by serve and scan
type runtimeDeps struct {
	db        *gorm.DB
	publisher cache.Publisher
	sessions  *session.Manager
}

func initDeps(cfg config.Config, scan config.ScanConfig) (*runtimeDeps, error) {
	settings, err := session.SettingsFromConfig(scan)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := db.Migrate(dbConn); err != nil {
		_ = db.Close(dbConn)
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	publisher, err := cache.NewRedisPublisher(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis publisher, continuing without publishing")
		publisher = &cache.RedisPublisher{}
	}

	manager := session.NewManager(
		settings,
		repository.NewAggregateRepository(dbConn),
		repository.NewBufferRepository(dbConn),
		repository.NewTaskRepository(dbConn),
		publisher,
	)

	return &runtimeDeps{db: dbConn, publisher: publisher, sessions: manager}, nil
}

func (d *runtimeDeps) Close() {
	if err := d.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis publisher")
	}
	if err := db.Close(d.db); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
