// Package txn implements the distributed two-phase-commit coordinator (C5)
// backing the @DistributedTransaction interceptor: propagation resolution,
// parallel prepare, sequential commit, and compensation-on-failure.
package txn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/legacy-lands/aspectrt/infrastructure/logging"
)

// Vote is a participant's response to Prepare.
type Vote int

const (
	VoteCommit Vote = iota
	VoteAbort
	VoteReadOnly
)

func (v Vote) String() string {
	switch v {
	case VoteCommit:
		return "commit"
	case VoteAbort:
		return "abort"
	case VoteReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a transaction context.
type Status int

const (
	StatusActive Status = iota
	StatusPreparing
	StatusPrepared
	StatusCommitting
	StatusCommitted
	StatusRollingBack
	StatusRolledBack
	StatusFailed
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPreparing:
		return "preparing"
	case StatusPrepared:
		return "prepared"
	case StatusCommitting:
		return "committing"
	case StatusCommitted:
		return "committed"
	case StatusRollingBack:
		return "rolling-back"
	case StatusRolledBack:
		return "rolled-back"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Propagation mirrors the standard transactional propagation semantics.
type Propagation int

const (
	Required Propagation = iota
	RequiresNew
	Nested
	Supports
	NotSupported
	Never
	Mandatory
)

// Participant is the contract every registered resource implements.
type Participant interface {
	Name() string
	Prepare(ctx context.Context) (Vote, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Cleanup(ctx context.Context) error
}

// Context describes one transaction's metadata, the Go shape of the
// "Transaction context" entity in the data model.
type Context struct {
	TxID         string
	Parent       string
	Participants []string
	Status       Status
	StartTime    time.Time
	Timeout      time.Duration
	Isolation    string
	ReadOnly     bool
	Name         string
}

type txnContextKey struct{}

// WithContext attaches a transaction Context to ctx so that nested calls can
// resolve propagation against it.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, txnContextKey{}, tc)
}

// FromContext returns the ambient transaction Context, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(txnContextKey{}).(*Context)
	return tc, ok
}

// LogEntry is one append-only coordinator log record.
type LogEntry struct {
	TxID      string
	Timestamp time.Time
	LogType   string
	Message   string
	Metadata  map[string]any
}

// Log is an append-only, in-memory sequence of LogEntry records. A durable
// implementation can satisfy the same append/entries shape against a
// persistent store; an in-memory one is acceptable for development per the
// component's own log-store note.
type Log struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(txID, logType, message string, metadata map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{TxID: txID, Timestamp: time.Now(), LogType: logType, Message: message, Metadata: metadata})
}

func (l *Log) Entries(txID string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogEntry
	for _, e := range l.entries {
		if e.TxID == txID {
			out = append(out, e)
		}
	}
	return out
}

// CompensationFunc runs when a commit fails after other participants already
// committed, undoing one participant's already-applied effect.
type CompensationFunc func(ctx context.Context, participant string) error

// Options configures one Coordinator.Execute call.
type Options struct {
	Propagation      Propagation
	Timeout          time.Duration
	Isolation        string
	ReadOnly         bool
	Name             string
	RollbackFor      func(error) bool
	NoRollbackFor    func(error) bool
	Compensations    map[string]CompensationFunc
	Logger           *logging.Logger
}

// DefaultRollbackFor matches any non-nil error, mirroring "default: runtime
// errors".
func DefaultRollbackFor(err error) bool { return err != nil }

// Coordinator runs the two-phase-commit algorithm across a set of
// Participants for one logical unit of work.
type Coordinator struct {
	log *Log
}

func NewCoordinator(log *Log) *Coordinator {
	if log == nil {
		log = NewLog()
	}
	return &Coordinator{log: log}
}

// Log exposes the coordinator's append-only log, e.g. for tests or an
// operational inspection endpoint.
func (c *Coordinator) Log() *Log { return c.log }

// Execute resolves propagation, runs target inside the transaction boundary,
// then drives prepare/commit/rollback/cleanup across participants following
// section 4.5's algorithm.
func (c *Coordinator) Execute(ctx context.Context, opts Options, participants []Participant, target func(ctx context.Context) error) error {
	rollbackFor := opts.RollbackFor
	if rollbackFor == nil {
		rollbackFor = DefaultRollbackFor
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	parent, hasParent := FromContext(ctx)
	if skip, err := c.resolvePropagation(opts, hasParent); skip {
		if err != nil {
			return err
		}
		return target(ctx)
	}

	tc := &Context{
		TxID:      uuid.NewString(),
		Status:    StatusActive,
		StartTime: time.Now(),
		Timeout:   opts.Timeout,
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
		Name:      opts.Name,
	}
	if hasParent {
		tc.Parent = parent.TxID
	}
	for _, p := range participants {
		tc.Participants = append(tc.Participants, p.Name())
	}

	c.log.Append(tc.TxID, "TransactionStart", "transaction started", map[string]any{"name": tc.Name})
	txCtx := WithContext(ctx, tc)
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(txCtx, opts.Timeout)
		defer cancel()
	}

	targetErr := target(txCtx)
	rollbackOnly := targetErr != nil && rollbackFor(targetErr) && !noRollback(opts.NoRollbackFor, targetErr)

	if !rollbackOnly {
		tc.Status = StatusPreparing
		votes, prepareErr := c.prepare(txCtx, participants)
		if prepareErr != nil || voteSaysAbort(votes) {
			rollbackOnly = true
		} else {
			tc.Status = StatusPrepared
		}

		if !rollbackOnly {
			if tc.ReadOnly && allReadOnly(votes) {
				tc.Status = StatusCommitted
				c.log.Append(tc.TxID, "TransactionCommit", "read-only, commit skipped", nil)
			} else {
				tc.Status = StatusCommitting
				if err := c.commit(txCtx, participants, votes, opts.Compensations, logger); err != nil {
					tc.Status = StatusFailed
					c.log.Append(tc.TxID, "TransactionFailed", err.Error(), nil)
					c.cleanupAll(txCtx, participants, logger)
					return err
				}
				tc.Status = StatusCommitted
				c.log.Append(tc.TxID, "TransactionCommit", "committed", nil)
			}
		}
	}

	if rollbackOnly {
		tc.Status = StatusRollingBack
		c.rollback(txCtx, participants, logger)
		tc.Status = StatusRolledBack
		c.log.Append(tc.TxID, "TransactionRollback", "rolled back", nil)
		c.cleanupAll(txCtx, participants, logger)
		if targetErr != nil {
			return rterrors.Wrap(rterrors.KindTransactionRollback, "transaction rolled back", targetErr)
		}
		return rterrors.TransactionParticipantAbort(tc.TxID, "unknown")
	}

	c.cleanupAll(txCtx, participants, logger)
	return nil
}

// resolvePropagation implements step 1 of the algorithm against an ambient
// transaction context, if any. skip=true means the caller should run target
// directly without starting a new coordinator transaction.
func (c *Coordinator) resolvePropagation(opts Options, hasParent bool) (skip bool, err error) {
	switch opts.Propagation {
	case Never:
		if hasParent {
			return true, rterrors.New(rterrors.KindInvalidArgument, "transaction present but propagation is Never")
		}
		return true, nil
	case Mandatory:
		if !hasParent {
			return true, rterrors.New(rterrors.KindInvalidArgument, "no transaction present but propagation is Mandatory")
		}
		// Join the caller's transaction: the coordinator does not start a
		// new one, target runs under the ambient context.
		return true, nil
	case NotSupported:
		// Suspend any existing transaction and run plainly.
		return true, nil
	case Supports:
		if !hasParent {
			return true, nil
		}
		return true, nil
	case Nested, RequiresNew, Required:
		return false, nil
	default:
		return false, nil
	}
}

func noRollback(pred func(error) bool, err error) bool {
	if pred == nil {
		return false
	}
	return pred(err)
}

func voteSaysAbort(votes map[string]Vote) bool {
	for _, v := range votes {
		if v == VoteAbort {
			return true
		}
	}
	return false
}

func allReadOnly(votes map[string]Vote) bool {
	if len(votes) == 0 {
		return false
	}
	for _, v := range votes {
		if v != VoteReadOnly {
			return false
		}
	}
	return true
}

// prepare runs Prepare on every participant in parallel and collects votes.
func (c *Coordinator) prepare(ctx context.Context, participants []Participant) (map[string]Vote, error) {
	type result struct {
		name string
		vote Vote
		err  error
	}
	results := make(chan result, len(participants))
	for _, p := range participants {
		go func(p Participant) {
			vote, err := p.Prepare(ctx)
			results <- result{name: p.Name(), vote: vote, err: err}
		}(p)
	}

	votes := make(map[string]Vote, len(participants))
	var firstErr error
	for range participants {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			votes[r.name] = VoteAbort
			continue
		}
		votes[r.name] = r.vote
	}
	return votes, firstErr
}

// commit runs Commit sequentially on every participant that voted Commit
// (read-only voters need no commit call). On failure it invokes any
// registered compensation for participants already committed.
func (c *Coordinator) commit(ctx context.Context, participants []Participant, votes map[string]Vote, compensations map[string]CompensationFunc, logger *logging.Logger) error {
	var committed []string
	for _, p := range participants {
		if votes[p.Name()] != VoteCommit {
			continue
		}
		if err := p.Commit(ctx); err != nil {
			c.compensate(ctx, committed, compensations, logger)
			return err
		}
		committed = append(committed, p.Name())
	}
	return nil
}

func (c *Coordinator) compensate(ctx context.Context, committed []string, compensations map[string]CompensationFunc, logger *logging.Logger) {
	for i := len(committed) - 1; i >= 0; i-- {
		name := committed[i]
		fn, ok := compensations[name]
		if !ok {
			continue
		}
		if err := fn(ctx, name); err != nil {
			logger.Error(ctx, "compensation failed", err, map[string]interface{}{"participant": name})
		}
	}
}

func (c *Coordinator) rollback(ctx context.Context, participants []Participant, logger *logging.Logger) {
	for _, p := range participants {
		if err := p.Rollback(ctx); err != nil {
			logger.Error(ctx, "rollback failed", err, map[string]interface{}{"participant": p.Name()})
		}
	}
}

func (c *Coordinator) cleanupAll(ctx context.Context, participants []Participant, logger *logging.Logger) {
	for _, p := range participants {
		if err := p.Cleanup(ctx); err != nil {
			logger.Error(ctx, "cleanup failed", err, map[string]interface{}{"participant": p.Name()})
		}
	}
}
