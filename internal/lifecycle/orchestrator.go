// Package lifecycle reconciles the outcome of package operations into
// package records and deferred notifications.
//
// Plugins and themes share one state machine; a Descriptor supplies the
// per-kind store and capabilities. Each entry point is a total function of
// the existing record and the outcome: the record is written whole, once,
// and only then is the notification enqueued.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/metrics"
)

// Orchestrator applies lifecycle outcomes.
type Orchestrator struct {
	kinds          map[addon.Kind]Descriptor
	repos          RepositoryResolver
	queue          EventQueue
	proxyMarker    string
	notifyRetained bool
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProxyMarker overrides addon.DefaultProxyMarker.
func WithProxyMarker(marker string) Option {
	return func(o *Orchestrator) { o.proxyMarker = marker }
}

// WithRetainedNotification enqueues a Deactivated event when an uninstall
// keeps a deactivated record.
func WithRetainedNotification(enabled bool) Option {
	return func(o *Orchestrator) { o.notifyRetained = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator for the given kinds.
func New(repos RepositoryResolver, q EventQueue, kinds []Descriptor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		kinds:       make(map[addon.Kind]Descriptor, len(kinds)),
		repos:       repos,
		queue:       q,
		proxyMarker: addon.DefaultProxyMarker,
		logger:      zap.NewNop(),
	}
	for _, d := range kinds {
		o.kinds[d.Kind] = d
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Apply delivers one outcome for an attempt to the matching continuation.
func (o *Orchestrator) Apply(ctx context.Context, verb Verb, a Attempt, out Outcome) (Result, error) {
	var (
		res Result
		err error
	)
	switch verb {
	case VerbInstall:
		if out.Succeeded {
			res, err = o.OnInstallSucceeded(ctx, a)
		} else {
			res, err = o.OnInstallFailed(ctx, a)
		}
	case VerbUpdate:
		if out.Succeeded {
			res, err = o.OnUpdateSucceeded(ctx, a)
		} else {
			res, err = o.OnUpdateFailed(ctx, a)
		}
	case VerbUninstall:
		if out.Succeeded {
			res, err = o.OnUninstallSucceeded(ctx, a)
		} else {
			res, err = o.OnUninstallFailed(ctx, a)
		}
	default:
		return Result{}, fmt.Errorf("unknown lifecycle verb %q", verb)
	}
	if err != nil {
		return res, err
	}

	o.metrics.ObserveOutcome(string(a.Kind), string(verb), out.Succeeded)
	fields := []zap.Field{
		zap.String("kind", string(a.Kind)),
		zap.String("package", a.Package),
		zap.String("verb", string(verb)),
		zap.Bool("succeeded", out.Succeeded),
		zap.String("event_kind", string(res.Event)),
	}
	if out.Err != nil {
		fields = append(fields, zap.NamedError("backend_error", out.Err))
	}
	o.logger.Info("lifecycle outcome applied", fields...)
	return res, nil
}

// OnInstallSucceeded creates or reactivates the record at a.Version.
func (o *Orchestrator) OnInstallSucceeded(ctx context.Context, a Attempt) (Result, error) {
	d, id, err := o.prepare(a)
	if err != nil {
		return Result{}, err
	}
	repoID, err := o.repos.Resolve(ctx, a.Repository)
	if err != nil {
		return Result{}, fmt.Errorf("install %s: %w", id.CanonicalName, err)
	}
	existing, err := o.find(ctx, d, id.CanonicalName)
	if err != nil {
		return Result{}, err
	}

	var rec *addon.Record
	if existing == nil {
		rec, err = d.Store.Create(ctx, &addon.Record{
			Kind:           d.Kind,
			Name:           id.CanonicalName,
			ProxyName:      id.ProxyName,
			Status:         addon.StatusActivated,
			RepositoryID:   repoID,
			CurrentVersion: a.Version,
			TargetVersion:  a.Version,
			Supports:       supportsFor(d, a.Supports),
		})
	} else {
		next := existing.Clone()
		next.Status = addon.StatusActivated
		next.RepositoryID = repoID
		next.CurrentVersion = a.Version
		next.TargetVersion = a.Version
		next.ProxyName = id.ProxyName
		if d.TracksSupports {
			next.Supports = supportsFor(d, a.Supports)
		}
		rec, err = d.Store.Update(ctx, next)
	}
	if err != nil {
		return Result{}, err
	}

	return o.notify(ctx, Result{Record: rec}, addon.EventInstalled, rec.Ref(), a.Listeners)
}

// OnInstallFailed records the failed attempt. A first failure creates a
// record with no current version; a later failure keeps the last good one.
func (o *Orchestrator) OnInstallFailed(ctx context.Context, a Attempt) (Result, error) {
	d, id, err := o.prepare(a)
	if err != nil {
		return Result{}, err
	}
	repoID, err := o.repos.Resolve(ctx, a.Repository)
	if err != nil {
		return Result{}, fmt.Errorf("install %s: %w", id.CanonicalName, err)
	}
	existing, err := o.find(ctx, d, id.CanonicalName)
	if err != nil {
		return Result{}, err
	}

	var rec *addon.Record
	if existing == nil {
		rec, err = d.Store.Create(ctx, &addon.Record{
			Kind:          d.Kind,
			Name:          id.CanonicalName,
			ProxyName:     id.ProxyName,
			Status:        addon.StatusFailedInstall,
			RepositoryID:  repoID,
			TargetVersion: a.Version,
			Supports:      supportsFor(d, a.Supports),
		})
	} else {
		next := existing.Clone()
		next.Status = addon.StatusFailedInstall
		next.TargetVersion = a.Version
		rec, err = d.Store.Update(ctx, next)
	}
	if err != nil {
		return Result{}, err
	}

	return o.notify(ctx, Result{Record: rec}, addon.EventInstallFailed, rec.Ref(), a.Listeners)
}

// OnUpdateSucceeded moves an existing record to a.Version.
func (o *Orchestrator) OnUpdateSucceeded(ctx context.Context, a Attempt) (Result, error) {
	d, id, err := o.prepare(a)
	if err != nil {
		return Result{}, err
	}
	existing, err := o.require(ctx, d, id.CanonicalName, VerbUpdate)
	if err != nil {
		return Result{}, err
	}

	next := existing.Clone()
	next.Status = addon.StatusActivated
	next.CurrentVersion = a.Version
	next.TargetVersion = a.Version
	if d.TracksSupports {
		next.Supports = supportsFor(d, a.Supports)
	}
	rec, err := d.Store.Update(ctx, next)
	if err != nil {
		return Result{}, err
	}

	return o.notify(ctx, Result{Record: rec}, addon.EventUpdated, rec.Ref(), a.Listeners)
}

// OnUpdateFailed records the version the failed update aimed for and keeps
// the current version.
func (o *Orchestrator) OnUpdateFailed(ctx context.Context, a Attempt) (Result, error) {
	d, id, err := o.prepare(a)
	if err != nil {
		return Result{}, err
	}
	existing, err := o.require(ctx, d, id.CanonicalName, VerbUpdate)
	if err != nil {
		return Result{}, err
	}

	next := existing.Clone()
	next.Status = addon.StatusFailedUpdate
	next.TargetVersion = a.Version
	rec, err := d.Store.Update(ctx, next)
	if err != nil {
		return Result{}, err
	}

	return o.notify(ctx, Result{Record: rec}, addon.EventUpdateFailed, rec.Ref(), a.Listeners)
}

// OnUninstallSucceeded deletes the record unless it is in the kind's
// retained status. A missing record is a no-op.
func (o *Orchestrator) OnUninstallSucceeded(ctx context.Context, a Attempt) (Result, error) {
	d, id, err := o.prepare(a)
	if err != nil {
		return Result{}, err
	}
	existing, err := o.find(ctx, d, id.CanonicalName)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		return Result{}, nil
	}

	if existing.Status == d.RetainedStatus {
		if !o.notifyRetained {
			return Result{Record: existing}, nil
		}
		return o.notify(ctx, Result{Record: existing}, addon.EventDeactivated, existing.Ref(), a.Listeners)
	}

	if err := d.Store.Delete(ctx, d.Kind, existing.Name); err != nil {
		return Result{}, err
	}

	return o.notify(ctx, Result{Deleted: true}, addon.EventUninstalled, existing.Ref(), a.Listeners)
}

// OnUninstallFailed marks an existing record as failed and always enqueues
// the failure.
func (o *Orchestrator) OnUninstallFailed(ctx context.Context, a Attempt) (Result, error) {
	d, id, err := o.prepare(a)
	if err != nil {
		return Result{}, err
	}
	existing, err := o.find(ctx, d, id.CanonicalName)
	if err != nil {
		return Result{}, err
	}

	ref := addon.Ref{Kind: d.Kind, Name: id.CanonicalName}
	var rec *addon.Record
	if existing != nil {
		next := existing.Clone()
		next.Status = addon.StatusFailedUninstall
		rec, err = d.Store.Update(ctx, next)
		if err != nil {
			return Result{}, err
		}
		ref = rec.Ref()
	}

	return o.notify(ctx, Result{Record: rec}, addon.EventUninstallFailed, ref, a.Listeners)
}

func (o *Orchestrator) prepare(a Attempt) (Descriptor, addon.Identity, error) {
	d, ok := o.kinds[a.Kind]
	if !ok {
		return Descriptor{}, addon.Identity{}, fmt.Errorf("no descriptor registered for package kind %q", a.Kind)
	}
	id, err := addon.ParseIdentity(a.Package, o.proxyMarker)
	if err != nil {
		return Descriptor{}, addon.Identity{}, err
	}
	return d, id, nil
}

// find returns the record named name, or nil if there is none.
func (o *Orchestrator) find(ctx context.Context, d Descriptor, name string) (*addon.Record, error) {
	rec, err := d.Store.FindByName(ctx, d.Kind, name)
	if errors.Is(err, addon.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// require is find for operations that presuppose a prior install.
func (o *Orchestrator) require(ctx context.Context, d Descriptor, name string, verb Verb) (*addon.Record, error) {
	rec, err := o.find(ctx, d, name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s %s: %w", verb, d.Kind, name, addon.ErrRecordNotFound)
	}
	return rec, nil
}

func (o *Orchestrator) notify(ctx context.Context, res Result, kind addon.EventKind, ref addon.Ref, listeners addon.Listeners) (Result, error) {
	if _, err := o.queue.Enqueue(ctx, kind, ref, listeners.For(kind)); err != nil {
		return res, fmt.Errorf("enqueue %s for %s: %w", kind, ref.Name, err)
	}
	o.metrics.ObserveEnqueued(string(kind))
	res.Event = kind
	return res, nil
}

func supportsFor(d Descriptor, supports []string) []string {
	if !d.TracksSupports {
		return nil
	}
	if supports == nil {
		return []string{}
	}
	return append([]string(nil), supports...)
}
