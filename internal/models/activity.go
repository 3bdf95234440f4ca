package models

import "time"

// ActivityLevel is the severity of an activity event
type ActivityLevel string

const (
	ActivityInfo    ActivityLevel = "info"
	ActivitySuccess ActivityLevel = "success"
	ActivityWarning ActivityLevel = "warning"
	ActivityError   ActivityLevel = "error"
)

// ActivityEvent is one observational entry of an instance's activity log
type ActivityEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Message   string        `json:"message"`
	Level     ActivityLevel `json:"level"`
}

// ConnectionStatus is the state of an instance's control connection
type ConnectionStatus string

const (
	StatusUnknown      ConnectionStatus = ""
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// RestartState is the position of an instance in the restart sequence
type RestartState string

const (
	RestartIdle          RestartState = "idle"
	RestartStopping      RestartState = "stopping"
	RestartReconfiguring RestartState = "reconfiguring"
	RestartStarting      RestartState = "starting"
	RestartReconnecting  RestartState = "reconnecting"
	RestartFailed        RestartState = "failed"
)
