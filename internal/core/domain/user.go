package domain

import "time"

// User is a participant identified by a unique graffiti memo. User CRUD lives
// outside this service; the ledger only resolves graffiti to user IDs.
type User struct {
	ID        int64     `json:"id"`
	Graffiti  string    `json:"graffiti"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is a MASP asset. OwnerID is nil until the asset is claimed by a user;
// MASP ledger rows exist independent of ownership, reward events do not.
type Asset struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
