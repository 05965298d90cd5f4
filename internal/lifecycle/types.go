package lifecycle

import (
	"context"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/queue"
)

// RecordStore persists records of one or more kinds.
type RecordStore interface {
	FindByName(ctx context.Context, kind addon.Kind, name string) (*addon.Record, error)
	Create(ctx context.Context, rec *addon.Record) (*addon.Record, error)
	Update(ctx context.Context, rec *addon.Record) (*addon.Record, error)
	Delete(ctx context.Context, kind addon.Kind, name string) error
}

// RepositoryResolver maps a repository name to its ID.
type RepositoryResolver interface {
	Resolve(ctx context.Context, name string) (int64, error)
}

// EventQueue receives the notifications produced by each operation.
type EventQueue interface {
	Enqueue(ctx context.Context, kind addon.EventKind, ref addon.Ref, listeners []string) (queue.Entry, error)
}

// Descriptor configures the state machine for one package kind.
type Descriptor struct {
	Kind  addon.Kind
	Store RecordStore

	// TracksSupports enables the capability tag list (themes).
	TracksSupports bool

	// RetainedStatus is the status whose record survives a successful
	// uninstall. The package files are still removed.
	RetainedStatus addon.Status
}

// PluginDescriptor returns the descriptor for plugins.
func PluginDescriptor(store RecordStore) Descriptor {
	return Descriptor{
		Kind:           addon.KindPlugin,
		Store:          store,
		RetainedStatus: addon.StatusDeactivated,
	}
}

// ThemeDescriptor returns the descriptor for themes.
func ThemeDescriptor(store RecordStore) Descriptor {
	return Descriptor{
		Kind:           addon.KindTheme,
		Store:          store,
		TracksSupports: true,
		RetainedStatus: addon.StatusDeactivated,
	}
}

// Verb is a lifecycle operation.
type Verb string

const (
	VerbInstall   Verb = "install"
	VerbUpdate    Verb = "update"
	VerbUninstall Verb = "uninstall"
)

// ParseVerb converts CLI input to a Verb.
func ParseVerb(s string) (Verb, bool) {
	switch Verb(s) {
	case VerbInstall, VerbUpdate, VerbUninstall:
		return Verb(s), true
	}
	return "", false
}

// Attempt describes one install, update or uninstall attempt.
type Attempt struct {
	Kind       addon.Kind
	Package    string // raw identifier as reported by the package manager
	Version    string
	Repository string
	Supports   []string
	Listeners  addon.Listeners
}

// Outcome is the result delivered by the installer backend. Exactly one
// outcome is delivered per attempt.
type Outcome struct {
	Succeeded bool
	Err       error
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Succeeded: true}
}

// Failure returns a failed outcome carrying the backend error.
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// Result reports what an operation did to the record and the queue.
type Result struct {
	// Record is the record state after the operation; nil when no record
	// exists afterwards.
	Record *addon.Record
	// Deleted is set when the operation removed the record.
	Deleted bool
	// Event is the enqueued event kind, empty when nothing was enqueued.
	Event addon.EventKind
}
