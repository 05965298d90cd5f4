package store

import "time"

// Repository is a package source known to the host.
type Repository struct {
	ID        int64
	Name      string
	URL       string
	CreatedAt time.Time
}
