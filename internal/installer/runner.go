package installer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/lifecycle"
)

// Applier receives the outcome of each attempt.
type Applier interface {
	Apply(ctx context.Context, verb lifecycle.Verb, a lifecycle.Attempt, out lifecycle.Outcome) (lifecycle.Result, error)
}

// Operation is one requested install, update or uninstall.
type Operation struct {
	Verb    lifecycle.Verb
	Attempt lifecycle.Attempt
}

// Report is the result of one operation.
type Report struct {
	Operation  Operation
	Result     lifecycle.Result
	BackendErr error // the package manager's failure, already applied as a failed outcome
	Err        error // the lifecycle could not record the outcome
	Skipped    bool  // an earlier operation on the same package could not be recorded
}

// Runner executes operations against a Backend and applies each outcome.
// Operations on the same package run in submission order; different
// packages run concurrently.
type Runner struct {
	backend     Backend
	applier     Applier
	proxyMarker string
	concurrency int
	logger      *zap.Logger
	progress    func(Report)
}

// NewRunner creates a Runner. concurrency <= 0 means unlimited.
func NewRunner(backend Backend, applier Applier, proxyMarker string, concurrency int, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		backend:     backend,
		applier:     applier,
		proxyMarker: proxyMarker,
		concurrency: concurrency,
		logger:      logger,
	}
}

// OnProgress registers fn to be called as each operation finishes or is
// skipped. fn may be called from several goroutines at once.
func (r *Runner) OnProgress(fn func(Report)) {
	r.progress = fn
}

// Run executes ops and returns one report per op in submission order. The
// returned error joins every lifecycle error; backend failures are not
// errors here since they were recorded as failed outcomes.
func (r *Runner) Run(ctx context.Context, ops []Operation) ([]Report, error) {
	reports := make([]Report, len(ops))
	for i, op := range ops {
		reports[i].Operation = op
	}

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, idx := range r.groups(ops) {
		idx := idx
		g.Go(func() error {
			for n, i := range idx {
				r.runOne(ctx, &reports[i])
				r.report(reports[i])
				if reports[i].Err == nil {
					continue
				}
				mu.Lock()
				errs = append(errs, reports[i].Err)
				mu.Unlock()
				for _, j := range idx[n+1:] {
					reports[j].Skipped = true
					r.report(reports[j])
				}
				return nil
			}
			return nil
		})
	}
	_ = g.Wait()

	return reports, errors.Join(errs...)
}

// groups partitions op indexes by canonical package, preserving order.
func (r *Runner) groups(ops []Operation) [][]int {
	var (
		order []string
		byKey = map[string][]int{}
	)
	for i, op := range ops {
		id := addon.ResolveIdentity(op.Attempt.Package, r.proxyMarker)
		key := string(op.Attempt.Kind) + "\x00" + id.CanonicalName
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], i)
	}

	out := make([][]int, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

func (r *Runner) runOne(ctx context.Context, rep *Report) {
	op := rep.Operation
	a := op.Attempt

	var err error
	switch op.Verb {
	case lifecycle.VerbInstall:
		err = r.backend.Install(ctx, a.Kind, a.Package, a.Version)
	case lifecycle.VerbUpdate:
		err = r.backend.Update(ctx, a.Kind, a.Package, a.Version)
	case lifecycle.VerbUninstall:
		err = r.backend.Uninstall(ctx, a.Kind, a.Package)
	default:
		rep.Err = fmt.Errorf("unknown lifecycle verb %q", op.Verb)
		return
	}

	out := lifecycle.Success()
	if err != nil {
		rep.BackendErr = err
		out = lifecycle.Failure(err)
	}

	rep.Result, rep.Err = r.applier.Apply(ctx, op.Verb, a, out)
	if rep.Err != nil {
		r.logger.Error("failed to record outcome",
			zap.String("verb", string(op.Verb)),
			zap.String("package", a.Package),
			zap.Error(rep.Err),
		)
	}
}

func (r *Runner) report(rep Report) {
	if r.progress != nil {
		r.progress(rep)
	}
}
