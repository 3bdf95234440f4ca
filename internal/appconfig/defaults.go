package appconfig

import (
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/utils"
)

// Default returns the built-in document used on first run and as the base
// that persisted documents are decoded onto.
func Default() models.ApplicationConfig {
	return models.ApplicationConfig{
		SchemaVersion: models.AppSchemaCurrent,
		Settings: models.GlobalSettings{
			WorkerBinary:         "craftworker",
			RestartGracePeriodMs: int(utils.DefaultRestartGracePeriod.Milliseconds()),
			StopWorkerOnRemove:   true,
		},
		Instances: []models.InstanceEntry{},
		UI: models.UIPreferences{
			Theme:    "system",
			Language: "en",
		},
	}
}
