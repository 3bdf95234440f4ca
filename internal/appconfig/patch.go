package appconfig

import (
	"github.com/craftstudio/craftstudio/internal/models"
)

// Patch is a partial update of the application document. Nil sections are
// untouched. Instances is replaced wholesale when set.
type Patch struct {
	Settings         *models.SettingsPatch
	UI               *models.UIPatch
	Instances        *[]models.InstanceEntry
	ActiveInstanceID *string
}

// Apply merges the patch into doc in place
func (p Patch) Apply(doc *models.ApplicationConfig) {
	if s := p.Settings; s != nil {
		if s.WorkerBinary != nil {
			doc.Settings.WorkerBinary = *s.WorkerBinary
		}
		if s.DefaultDataRoot != nil {
			doc.Settings.DefaultDataRoot = *s.DefaultDataRoot
		}
		if s.RestartGracePeriodMs != nil {
			doc.Settings.RestartGracePeriodMs = *s.RestartGracePeriodMs
		}
		if s.StopWorkerOnRemove != nil {
			doc.Settings.StopWorkerOnRemove = *s.StopWorkerOnRemove
		}
	}

	if u := p.UI; u != nil {
		if u.Theme != nil {
			doc.UI.Theme = *u.Theme
		}
		if u.Language != nil {
			doc.UI.Language = *u.Language
		}
		if u.SidebarCollapsed != nil {
			doc.UI.SidebarCollapsed = *u.SidebarCollapsed
		}
	}

	if p.Instances != nil {
		list := make([]models.InstanceEntry, len(*p.Instances))
		for i, e := range *p.Instances {
			if e.Config != nil {
				cfg := e.Config.Clone()
				e.Config = &cfg
			}
			list[i] = e
		}
		doc.Instances = list
	}

	if p.ActiveInstanceID != nil {
		doc.ActiveInstanceID = *p.ActiveInstanceID
	}
}
