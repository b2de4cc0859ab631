package types

import "github.com/charlie0129/fwlimit/pkg/limit"

// LimitStatus is the daemon's answer to limit queries and changes.
// It is shared between the daemon and client packages. Known is false
// while State is the startup fallback, not confirmed by framework_tool.
type LimitStatus struct {
	State   limit.State `json:"state"`
	Percent int         `json:"percent"`
	Icon    string      `json:"icon"`
	Known   bool        `json:"known"`
	Message string      `json:"message,omitempty"`
}

// NewLimitStatus fills the derived fields from s.
func NewLimitStatus(s limit.State, known bool) *LimitStatus {
	return &LimitStatus{
		State:   s,
		Percent: s.Percent(),
		Icon:    s.IconName(),
		Known:   known,
	}
}

// ErrorResponse is returned with every non-2xx status. Error is a generic
// description; tool output is only ever logged by the daemon.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
