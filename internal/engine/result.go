package engine

import (
	"context"
	"log/slog"
	"sync"

	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/store"
)

// Change records one entity mutation made by an operation. From is empty for
// newly created entities.
type Change struct {
	Fullname string
	Level    hierarchy.Level
	From     hierarchy.Status
	To       hierarchy.Status
	Note     string
}

// Result summarizes an operation. NotReady is not an error: it reports that
// preconditions such as prerequisites were not met yet.
type Result struct {
	Operation string
	Target    string
	// Status is the target's effective status after the operation.
	Status   hierarchy.Status
	NotReady bool
	Reason   string
	// Pending lists entities left waiting on something outside the operation.
	Pending []string
	Changes []Change
}

// Changed reports whether the operation wrote anything.
func (r *Result) Changed() bool {
	return r != nil && len(r.Changes) > 0
}

type opState struct {
	mu     sync.Mutex
	res    *Result
	logger *slog.Logger
}

func (o *opState) notReady(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.res.NotReady = true
	if o.res.Reason == "" {
		o.res.Reason = reason
	}
}

func (o *opState) pending(fullname string) {
	o.mu.Lock()
	o.res.Pending = append(o.res.Pending, fullname)
	o.mu.Unlock()
}

func (o *opState) apply(changes []Change) {
	o.mu.Lock()
	o.res.Changes = append(o.res.Changes, changes...)
	o.mu.Unlock()
	for _, c := range changes {
		o.logger.Info("entity changed",
			logging.String(logging.FieldEventType, "status_transition"),
			logging.Fullname(c.Fullname),
			logging.String("level", c.Level.String()),
			logging.Transition(c.From, c.To),
			logging.String("note", c.Note),
		)
	}
}

// changeSet collects the changes of one transaction attempt so a retried
// transaction never reports a change twice.
type changeSet struct {
	tx      *store.Tx
	changes []Change
}

// set writes ent with a new status. A change is recorded when the status
// moves or a note is given.
func (c *changeSet) set(ctx context.Context, ent *hierarchy.Entity, to hierarchy.Status, note string) error {
	from := ent.Status
	ent.Status = to
	if err := c.tx.UpdateEntity(ctx, ent); err != nil {
		ent.Status = from
		return err
	}
	if from != to || note != "" {
		c.changes = append(c.changes, Change{Fullname: ent.Fullname, Level: ent.Level, From: from, To: to, Note: note})
	}
	return nil
}

func (c *changeSet) insert(ctx context.Context, ent *hierarchy.Entity, note string) error {
	if err := c.tx.InsertEntity(ctx, ent); err != nil {
		return err
	}
	c.changes = append(c.changes, Change{Fullname: ent.Fullname, Level: ent.Level, To: ent.Status, Note: note})
	return nil
}

// commit runs fn in one transaction and publishes its changes after commit.
func (e *Engine) commit(ctx context.Context, op *opState, fn func(cs *changeSet) error) error {
	var applied []Change
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		cs := &changeSet{tx: tx}
		if err := fn(cs); err != nil {
			return err
		}
		applied = cs.changes
		return nil
	})
	if err != nil {
		return err
	}
	op.apply(applied)
	return nil
}
