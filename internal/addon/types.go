// Package addon defines the records, statuses and lifecycle events shared by
// every other addonsync package.
package addon

import (
	"fmt"
	"time"
)

// Kind distinguishes the two add-on namespaces tracked by the host.
type Kind string

const (
	KindPlugin Kind = "plugin"
	KindTheme  Kind = "theme"
)

// ParseKind converts user input ("plugin", "plugins", "theme", ...) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "plugin", "plugins":
		return KindPlugin, nil
	case "theme", "themes":
		return KindTheme, nil
	default:
		return "", fmt.Errorf("unknown package kind %q (want plugin or theme)", s)
	}
}

// Kinds returns every supported kind in display order.
func Kinds() []Kind {
	return []Kind{KindPlugin, KindTheme}
}

// Status is the single state a record holds at any time.
type Status string

const (
	StatusActivated       Status = "activated"
	StatusDeactivated     Status = "deactivated"
	StatusFailedInstall   Status = "failed_install"
	StatusFailedUpdate    Status = "failed_update"
	StatusFailedUninstall Status = "failed_uninstall"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActivated, StatusDeactivated, StatusFailedInstall, StatusFailedUpdate, StatusFailedUninstall:
		return true
	}
	return false
}

// Record is one installed add-on tracked by the host.
type Record struct {
	ID             int64
	Kind           Kind
	Name           string // canonical name, unique per kind
	ProxyName      string // empty when fetched under the canonical name
	Status         Status
	RepositoryID   int64
	CurrentVersion string // empty until an install has succeeded
	TargetVersion  string
	Supports       []string // themes only
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing Supports.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Supports != nil {
		c.Supports = append([]string(nil), r.Supports...)
	}
	return &c
}

// Ref identifies a record well enough to re-fetch it later, possibly from
// another process.
type Ref struct {
	Kind Kind   `json:"package_kind"`
	ID   int64  `json:"package_id"`
	Name string `json:"package_name"`
}

// Ref returns the reference for r.
func (r *Record) Ref() Ref {
	return Ref{Kind: r.Kind, ID: r.ID, Name: r.Name}
}
