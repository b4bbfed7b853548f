// ABOUTME: Synchronization state of a location sample
// ABOUTME: Encodes the forward-only Pending -> InFlight -> Synced/Failed lifecycle

package models

import (
	"encoding/json"
	"fmt"
)

// SyncState is where a sample is in delivery to the remote store.
type SyncState int

const (
	// Pending samples wait for the next scheduler run. The zero value.
	Pending SyncState = iota
	// InFlight samples belong to a batch that has been handed to the transport.
	InFlight
	// Synced samples were acknowledged by the remote store. Terminal.
	Synced
	// Failed samples exhausted their attempts or were rejected. They stay out
	// of automatic sync until explicitly reset.
	Failed
)

var syncStateNames = map[SyncState]string{
	Pending:  "pending",
	InFlight: "in_flight",
	Synced:   "synced",
	Failed:   "failed",
}

// String returns the storage name of the state.
func (s SyncState) String() string {
	if name, ok := syncStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("sync_state(%d)", int(s))
}

// ParseSyncState is the inverse of String.
func ParseSyncState(name string) (SyncState, error) {
	for state, n := range syncStateNames {
		if n == name {
			return state, nil
		}
	}
	return Pending, fmt.Errorf("unknown sync state %q", name)
}

// CanTransition reports whether a queue update may move a sample from s to
// next. Pending to Pending is a retry being rescheduled. Leaving Synced or
// Failed takes an explicit reset and is never a transition.
func (s SyncState) CanTransition(next SyncState) bool {
	switch s {
	case Pending:
		return true
	case InFlight:
		return next == Synced || next == Pending || next == Failed
	default:
		return false
	}
}

// MarshalJSON encodes the state by name.
func (s SyncState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *SyncState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSyncState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML encodes the state by name for backups.
func (s SyncState) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML decodes a state name from a backup.
func (s *SyncState) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseSyncState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
