package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_document_lineages",
		SQL: `CREATE TABLE IF NOT EXISTS document_lineages (
  entity_type  TEXT        NOT NULL,
  entity_id    TEXT        NOT NULL,
  slot         TEXT        NOT NULL,
  last_version INTEGER     NOT NULL DEFAULT 0 CHECK (last_version >= 0),
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (entity_type, entity_id, slot)
);`,
	},
	{
		Name: "create_table_document_records",
		SQL: `CREATE TABLE IF NOT EXISTS document_records (
  id                   UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  entity_type          TEXT        NOT NULL CHECK (entity_type IN ('vivienda', 'proyecto', 'cliente')),
  entity_id            TEXT        NOT NULL,
  slot                 TEXT        NOT NULL,
  version              INTEGER     NOT NULL CHECK (version > 0),
  state                TEXT        NOT NULL CHECK (state IN ('active', 'superseded', 'erroneous', 'obsolete', 'deleted')),
  storage_key          TEXT        NOT NULL,
  original_filename    TEXT        NOT NULL,
  stored_filename      TEXT        NOT NULL,
  content_type         TEXT        NOT NULL,
  size                 BIGINT      NOT NULL CHECK (size >= 0),
  uploaded_by          TEXT        NOT NULL,
  uploaded_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  reason_code          TEXT,
  reason_note          TEXT,
  supersedes           UUID,
  superseded_by        UUID,
  corrected_by         UUID,
  deleted_at           TIMESTAMPTZ,
  object_purged_at     TIMESTAMPTZ,
  missing_object_since TIMESTAMPTZ,
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT uq_document_records_version UNIQUE (entity_type, entity_id, slot, version)
);`,
	},
	{
		Name: "create_index_document_records_single_active",
		SQL: `CREATE UNIQUE INDEX IF NOT EXISTS uq_document_records_active
  ON document_records (entity_type, entity_id, slot) WHERE state = 'active';`,
	},
	{
		Name: "create_index_document_records_storage_key",
		SQL: `CREATE UNIQUE INDEX IF NOT EXISTS uq_document_records_storage_key
  ON document_records (storage_key) WHERE state <> 'deleted';`,
	},
	{
		Name: "create_index_document_records_entity",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_document_records_entity ON document_records (entity_type, entity_id);`,
	},
	{
		Name: "create_index_document_records_pending_purge",
		SQL: `CREATE INDEX IF NOT EXISTS idx_document_records_pending_purge
  ON document_records (deleted_at) WHERE state = 'deleted' AND object_purged_at IS NULL;`,
	},
	{
		Name: "create_trigger_document_records_stored_filename_immutable",
		SQL: `CREATE OR REPLACE FUNCTION document_records_stored_filename_immutable() RETURNS trigger AS $$
BEGIN
  IF NEW.stored_filename <> OLD.stored_filename THEN
    RAISE EXCEPTION 'stored_filename is immutable';
  END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS trg_document_records_stored_filename ON document_records;
CREATE TRIGGER trg_document_records_stored_filename
  BEFORE UPDATE ON document_records
  FOR EACH ROW EXECUTE FUNCTION document_records_stored_filename_immutable();`,
	},
	{
		Name: "create_table_document_audit",
		SQL: `CREATE TABLE IF NOT EXISTS document_audit (
  seq         BIGSERIAL   PRIMARY KEY,
  id          UUID        NOT NULL UNIQUE,
  version_id  UUID        NOT NULL,
  entity_type TEXT        NOT NULL,
  entity_id   TEXT        NOT NULL,
  slot        TEXT        NOT NULL,
  action      TEXT        NOT NULL,
  from_state  TEXT,
  to_state    TEXT,
  actor       TEXT        NOT NULL,
  reason_code TEXT,
  reason_note TEXT,
  recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_document_audit_version",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_document_audit_version ON document_audit (version_id, seq);`,
	},
	{
		Name: "create_trigger_document_audit_append_only",
		SQL: `CREATE OR REPLACE FUNCTION document_audit_append_only() RETURNS trigger AS $$
BEGIN
  RAISE EXCEPTION 'document_audit is append-only';
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS trg_document_audit_append_only ON document_audit;
CREATE TRIGGER trg_document_audit_append_only
  BEFORE UPDATE OR DELETE ON document_audit
  FOR EACH ROW EXECUTE FUNCTION document_audit_append_only();`,
	},
}

// EnsureMigrated checks if the 'document_records' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, log zerolog.Logger, dbHost string) error {
	start := time.Now()
	log = log.With().Str("component", "database").Str("db_host", dbHost).Logger()

	log.Info().Str("event", "db_migration_check").Str("status", "starting").Send()

	var exists bool
	query := "SELECT to_regclass('public.document_records') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		log.Error().
			Str("event", "db_migration_failed").
			Str("status", "error").
			Str("error_message", fmt.Sprintf("failed to check sentinel table: %v", err)).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Send()
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		log.Info().
			Str("event", "db_migration_skip").
			Str("status", "success").
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("schema already exists, skipping migration")
		return nil
	}

	log.Info().Str("event", "db_migration_start").Str("status", "in_progress").Send()

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			log.Error().
				Str("event", "db_migration_failed").
				Str("status", "error").
				Str("migration_step", step.Name).
				Str("error_message", err.Error()).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
				Send()
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info().
			Str("event", "db_migration_step").
			Str("status", "success").
			Str("migration_step", step.Name).
			Int64("step_duration_ms", time.Since(stepStart).Milliseconds()).
			Send()
	}

	log.Info().
		Str("event", "db_migration_success").
		Str("status", "success").
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Send()

	return nil
}
