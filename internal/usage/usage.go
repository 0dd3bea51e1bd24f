// Package usage defines the provider-independent usage snapshot model.
package usage

import "time"

// Window describes utilization of one rolling rate-limit window.
type Window struct {
	// Utilization is the consumed fraction of the window, 0.0 to 1.0.
	Utilization float64   `json:"utilization"`
	ResetsAt    time.Time `json:"resets_at,omitzero"`
	Label       string    `json:"label,omitempty"`
}

// Identity carries the account identity a snapshot was fetched for.
// Never includes token material.
type Identity struct {
	Email     string `json:"email,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Plan      string `json:"plan,omitempty"`
}

// Snapshot is the result of one successful usage fetch for one account.
type Snapshot struct {
	Provider  string    `json:"provider"`
	Account   string    `json:"account,omitempty"`
	Identity  Identity  `json:"identity,omitzero"`
	Windows   []Window  `json:"windows"`
	FetchedAt time.Time `json:"fetched_at"`

	// Source is the strategy that produced the snapshot, e.g. "oauth" or "cli".
	Source string `json:"source"`
}

// Primary returns the most constrained window, the one a status display
// would surface first. Nil when the snapshot has no windows.
func (s *Snapshot) Primary() *Window {
	var primary *Window
	for i := range s.Windows {
		if primary == nil || s.Windows[i].Utilization > primary.Utilization {
			primary = &s.Windows[i]
		}
	}
	return primary
}
