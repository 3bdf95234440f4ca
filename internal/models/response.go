package models

import "encoding/json"

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// InstanceView is an instance record together with its live state
type InstanceView struct {
	InstanceConfig
	Active       bool             `json:"active"`
	Connection   ConnectionStatus `json:"connection"`
	RestartState RestartState     `json:"restartState"`
}

// MarshalJSON flattens the record and the live state into one object
func (v InstanceView) MarshalJSON() ([]byte, error) {
	rec := v.InstanceConfig.Clone()
	if rec.Extra == nil {
		rec.Extra = make(map[string]json.RawMessage, 3)
	}
	for key, val := range map[string]interface{}{
		"active":       v.Active,
		"connection":   v.Connection,
		"restartState": v.RestartState,
	} {
		raw, err := marshalNoEscape(val)
		if err != nil {
			return nil, err
		}
		rec.Extra[key] = raw
	}
	return rec.MarshalJSON()
}

// InstanceListResponse represents GET /v1/instances
type InstanceListResponse struct {
	Instances        []InstanceView `json:"instances"`
	ActiveInstanceID string         `json:"activeInstanceId"`
}

// AddInstanceResponse represents POST /v1/instances
type AddInstanceResponse struct {
	Instance InstanceView `json:"instance"`
}

// ActivityResponse represents GET /v1/instances/:id/activity
type ActivityResponse struct {
	InstanceID string          `json:"instanceId"`
	Events     []ActivityEvent `json:"events"`
}

// AcceptedResponse is returned by operations that continue in background
type AcceptedResponse struct {
	Accepted   bool   `json:"accepted"`
	InstanceID string `json:"instanceId"`
	Action     string `json:"action"`
}
