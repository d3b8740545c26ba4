package web

import "github.com/sweeney/kiln-controller/internal/preset"

// StartRequest starts a stored profile, or an inline schedule when Points is set.
type StartRequest struct {
	Profile string         `json:"profile"`
	Points  []preset.Point `json:"points,omitempty"`
}

// StartResponse identifies the started session.
type StartResponse struct {
	SessionID string `json:"session_id"`
	Profile   string `json:"profile"`
}

// StopResponse reports whether a running firing was asked to stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ProfilesResponse lists stored profile names.
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
}

// ErrorResponse carries an API error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ControlRequest is the body of POST /control.
type ControlRequest struct {
	Action  string `json:"action"`
	Profile string `json:"profile,omitempty"`
}

// MessageResponse is the reply to POST /control.
type MessageResponse struct {
	Message string `json:"message"`
}
