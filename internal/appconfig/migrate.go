package appconfig

import (
	"github.com/google/uuid"

	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

// Migrator upgrades a loaded document to the current schema. Moving from
// embedded records to references writes each record to its data dir first.
type Migrator struct {
	WriteInstance func(dataDir string, cfg models.InstanceConfig) error
	Logger        *logging.Logger
}

// NewMigrator creates a Migrator that writes records with workerconfig
func NewMigrator(logger *logging.Logger) *Migrator {
	if logger == nil {
		logger = logging.Global()
	}
	return &Migrator{
		WriteInstance: workerconfig.WriteInstance,
		Logger:        logger,
	}
}

// Migrate returns the upgraded document and whether anything changed.
// Running it on its own output is a no-op. An entry whose record cannot be
// written stays embedded and the schema version is held back until a later
// load succeeds.
func (m *Migrator) Migrate(doc models.ApplicationConfig) (models.ApplicationConfig, bool) {
	if doc.SchemaVersion > models.AppSchemaCurrent {
		m.Logger.Warn("Config schema is newer than supported, leaving as is",
			"schema_version", doc.SchemaVersion,
			"supported", models.AppSchemaCurrent)
		return doc, false
	}

	out := doc.Clone()
	changed := false
	if out.SchemaVersion < models.AppSchemaEmbedded {
		out.SchemaVersion = models.AppSchemaEmbedded
		changed = true
	}

	remaining := 0
	for i, entry := range out.Instances {
		if !entry.Embedded() {
			continue
		}
		rec := *entry.Config
		if rec.ID == "" {
			rec.ID = uuid.New().String()
			entry.Config.ID = rec.ID
			entry.ID = rec.ID
			out.Instances[i] = entry
			changed = true
		}
		if rec.DataDir == "" {
			m.Logger.Warn("Embedded instance has no data dir, keeping it embedded", "instance_id", rec.ID)
			remaining++
			continue
		}
		if err := m.WriteInstance(rec.DataDir, rec); err != nil {
			m.Logger.Error("Failed to migrate instance record",
				"instance_id", rec.ID,
				"data_dir", rec.DataDir,
				"error", err)
			remaining++
			continue
		}
		out.Instances[i] = rec.Ref()
		changed = true
		m.Logger.Info("Migrated instance record to data dir", "instance_id", rec.ID, "data_dir", rec.DataDir)
	}

	if remaining == 0 && out.SchemaVersion < models.AppSchemaReferences {
		out.SchemaVersion = models.AppSchemaReferences
		changed = true
	}

	if !changed {
		return doc, false
	}
	out.FixActiveInstance()
	return out, true
}
