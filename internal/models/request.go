package models

// AddInstanceRequest is the body of POST /v1/instances
type AddInstanceRequest struct {
	Instance InstanceConfig `json:"instance"`
	APIKey   string         `json:"apiKey,omitempty"`
}

// SettingsPatch is a partial update of GlobalSettings
type SettingsPatch struct {
	WorkerBinary         *string `json:"workerBinary,omitempty"`
	DefaultDataRoot      *string `json:"defaultDataRoot,omitempty"`
	RestartGracePeriodMs *int    `json:"restartGracePeriodMs,omitempty"`
	StopWorkerOnRemove   *bool   `json:"stopWorkerOnRemove,omitempty"`
}

// UIPatch is a partial update of UIPreferences
type UIPatch struct {
	Theme            *string `json:"theme,omitempty"`
	Language         *string `json:"language,omitempty"`
	SidebarCollapsed *bool   `json:"sidebarCollapsed,omitempty"`
}

// ConfigPatchRequest is the body of PATCH /v1/config
type ConfigPatchRequest struct {
	Settings *SettingsPatch `json:"settings,omitempty"`
	UI       *UIPatch       `json:"ui,omitempty"`
}
