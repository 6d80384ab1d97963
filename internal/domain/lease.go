package domain

import "time"

// Lease is a time-bounded mutual exclusion claim on Key. A holder that crashes
// loses the lease once ExpiresAt passes.
type Lease struct {
	Key       string    `json:"key"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}
