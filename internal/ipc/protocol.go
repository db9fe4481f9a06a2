// Package ipc carries owner-process commands over a unix socket as newline-delimited JSON.
package ipc

import "slices"

// Commands understood by the owner process.
const (
	CommandStatus = "status"
	CommandToggle = "toggle"
	CommandStop   = "stop"
	CommandCancel = "cancel"
)

var commands = []string{CommandStatus, CommandToggle, CommandStop, CommandCancel}

type Request struct {
	Command string `json:"command"`
}

// Known reports whether the request names a supported command.
func (r Request) Known() bool {
	return slices.Contains(commands, r.Command)
}

type Response struct {
	OK              bool    `json:"ok"`
	State           string  `json:"state,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Message         string  `json:"message,omitempty"`
	Error           string  `json:"error,omitempty"`
}
