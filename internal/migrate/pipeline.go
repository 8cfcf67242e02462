// Package migrate evolves an existing store to the current layout. Steps are
// declared in a table; one driver plans and runs them.
package migrate

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/storage"
)

// Step is one forward-only change tied to a schema version. Applied must be
// safe to call at any time and report whether the change is already present.
type Step struct {
	Version int
	Name    string
	Applied func(tx *bolt.Tx) (bool, error)
	Apply   func(tx *bolt.Tx) error
}

// StepError is a failed step. Earlier steps stay committed.
type StepError struct {
	Version int
	Name    string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Status int

const (
	// Succeeded means the step committed and more steps are pending.
	Succeeded Status = iota
	// Done means nothing is left to run.
	Done
	// Failed means the step did not commit. The queue is halted.
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome describes one RunNext call.
type Outcome struct {
	Status Status
	// Step is the step that ran, nil when nothing ran.
	Step *Step
	// Version is the persisted schema version afterwards.
	Version int
	Err     *StepError
}

// Queue holds the steps still to run. It is consumed by RunNext.
type Queue struct {
	steps  []Step
	failed *StepError
}

func (q *Queue) Len() int {
	return len(q.steps)
}

// Steps returns the pending steps in run order.
func (q *Queue) Steps() []Step {
	return append([]Step(nil), q.steps...)
}

// Failure returns the error that halted the queue, if any.
func (q *Queue) Failure() *StepError {
	return q.failed
}

type Pipeline struct {
	store *storage.Store
	steps []Step
}

// New validates the step table: versions must be positive and strictly
// increasing, and every step needs both functions.
func New(store *storage.Store, steps []Step) (*Pipeline, error) {
	prev := 0
	for _, s := range steps {
		if s.Version <= prev {
			return nil, fmt.Errorf("step %q: version %d must be greater than %d", s.Name, s.Version, prev)
		}
		if s.Applied == nil || s.Apply == nil {
			return nil, fmt.Errorf("step %q: missing Applied or Apply", s.Name)
		}
		prev = s.Version
	}
	return &Pipeline{store: store, steps: steps}, nil
}

// NewDefault returns a pipeline over the production step table.
func NewDefault(store *storage.Store) *Pipeline {
	p, err := New(store, DefaultSteps())
	if err != nil {
		panic(err)
	}
	return p
}

// Latest is the version a fully migrated store carries.
func (p *Pipeline) Latest() int {
	if len(p.steps) == 0 {
		return 0
	}
	return p.steps[len(p.steps)-1].Version
}

// Plan returns the steps newer than current whose change is not present yet.
// Preconditions are evaluated against the store every time, so planning after
// a failure resumes at the first unapplied step.
func (p *Pipeline) Plan(current int) (*Queue, error) {
	q := &Queue{}
	err := p.store.View(func(tx *bolt.Tx) error {
		for _, s := range p.steps {
			if s.Version <= current {
				continue
			}
			applied, err := s.Applied(tx)
			if err != nil {
				return &StepError{Version: s.Version, Name: s.Name, Err: fmt.Errorf("checking precondition: %w", err)}
			}
			if applied {
				debuglog.Debugf("migration %d (%s) already applied", s.Version, s.Name)
				continue
			}
			q.steps = append(q.steps, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Pending plans from the persisted schema version.
func (p *Pipeline) Pending() (*Queue, error) {
	current, err := p.store.SchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	return p.Plan(current)
}

// RunNext runs exactly one step. The step's changes and the version bump
// commit in the same transaction. After a failure the queue is halted and
// every further call returns the same failure without running anything.
func (p *Pipeline) RunNext(q *Queue) Outcome {
	if q.failed != nil {
		return p.outcome(Failed, nil, q.failed)
	}
	if len(q.steps) == 0 {
		return p.outcome(Done, nil, nil)
	}

	step := q.steps[0]
	debuglog.Infof("running migration %d (%s)", step.Version, step.Name)

	err := p.store.Update(func(tx *bolt.Tx) error {
		if err := step.Apply(tx); err != nil {
			return err
		}
		return storage.WriteSchemaVersion(tx, step.Version)
	})
	if err != nil {
		q.failed = &StepError{Version: step.Version, Name: step.Name, Err: err}
		debuglog.Errorf("%v", q.failed)
		return p.outcome(Failed, &step, q.failed)
	}

	q.steps = q.steps[1:]
	if len(q.steps) == 0 {
		return p.outcome(Done, &step, nil)
	}
	return p.outcome(Succeeded, &step, nil)
}

func (p *Pipeline) outcome(status Status, step *Step, stepErr *StepError) Outcome {
	version, err := p.store.SchemaVersion()
	if err != nil {
		debuglog.Warnf("reading schema version: %v", err)
	}
	return Outcome{Status: status, Step: step, Version: version, Err: stepErr}
}

// RunAll drains the queue, reporting every outcome to observe when set.
func (p *Pipeline) RunAll(q *Queue, observe func(Outcome)) error {
	for {
		out := p.RunNext(q)
		if observe != nil {
			observe(out)
		}
		switch out.Status {
		case Failed:
			return out.Err
		case Done:
			return nil
		}
	}
}

// Settle stamps the latest version on a store that needs no migration, such
// as a freshly created one. It refuses while steps are pending.
func (p *Pipeline) Settle() error {
	q, err := p.Pending()
	if err != nil {
		return err
	}
	if q.Len() > 0 {
		return fmt.Errorf("%d migrations pending", q.Len())
	}
	latest := p.Latest()
	return p.store.Update(func(tx *bolt.Tx) error {
		current, err := storage.ReadSchemaVersion(tx)
		if err != nil {
			return err
		}
		if current >= latest {
			return nil
		}
		return storage.WriteSchemaVersion(tx, latest)
	})
}
