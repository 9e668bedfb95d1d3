package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/types"
	"github.com/openfondos/grantmirror/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "grantmirror", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.BeneficiaryType{},
		&types.Instrument{},
		&types.Region{},
		&types.Fund{},
		&types.Sector{},
		&types.Purpose{},
		&types.GrantCall{},
		&types.GrantDocument{},
		&types.GrantAnnouncement{},
		&types.GrantObjective{},
		&types.SyncRun{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	fks := []struct {
		name string
		stmt string
	}{
		{
			name: "fk_grant_document_grant_call_id",
			stmt: `ALTER TABLE "grant_document" ADD CONSTRAINT "fk_grant_document_grant_call_id" FOREIGN KEY ("grant_call_id") REFERENCES "grant_call"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_grant_announcement_grant_call_id",
			stmt: `ALTER TABLE "grant_announcement" ADD CONSTRAINT "fk_grant_announcement_grant_call_id" FOREIGN KEY ("grant_call_id") REFERENCES "grant_call"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_grant_objective_grant_call_id",
			stmt: `ALTER TABLE "grant_objective" ADD CONSTRAINT "fk_grant_objective_grant_call_id" FOREIGN KEY ("grant_call_id") REFERENCES "grant_call"("id") ON DELETE CASCADE`,
		},
	}
	for _, fk := range fks {
		var exists bool
		if err := s.db.Raw(`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = ?)`, fk.name).Scan(&exists).Error; err != nil {
			return fmt.Errorf("check constraint %s: %w", fk.name, err)
		}
		if exists {
			continue
		}
		if err := s.db.Exec(fk.stmt).Error; err != nil {
			return fmt.Errorf("add constraint %s: %w", fk.name, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
