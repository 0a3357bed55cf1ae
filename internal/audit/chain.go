// Package audit implements the tamper-evident audit chain: an append-only,
// hash-linked record store. Every enrollment and verification decision lands
// here; a decision without a record, or an altered record, breaks the chain
// and is detectable by recomputation.
package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	dErrors "biogate/pkg/domain-errors"
)

// Store persists chain records. Append must fail on duplicate sequence
// numbers; Range returns records ordered by sequence, inclusive on both ends.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Last(ctx context.Context) (*Record, error)
	Range(ctx context.Context, from, to uint64) ([]*Record, error)
}

// Publisher mirrors appended records to an external sink (e.g. Kafka) for
// SIEM fan-out. Best effort; the chain store remains the source of truth.
type Publisher interface {
	Publish(ctx context.Context, rec *Record) error
}

// Chain is the single serialized append path for audit records. The link
// hash of each record depends on its predecessor, so sequence assignment and
// persistence happen inside one short critical section; content digests are
// computed outside it.
type Chain struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger

	// halted trips on the first detected tamper and blocks trust in
	// subsequent decisions until an operator reset.
	halted atomic.Bool

	mu       sync.Mutex
	lastSeq  uint64
	lastLink []byte
}

type Option func(*Chain)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

func WithPublisher(p Publisher) Option {
	return func(c *Chain) { c.publisher = p }
}

// NewChain loads the chain head so appends can continue an existing log.
func NewChain(ctx context.Context, store Store, opts ...Option) (*Chain, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	c := &Chain{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	last, err := store.Last(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load audit chain head")
	}
	if last != nil {
		c.lastSeq = last.Seq
		c.lastLink = last.LinkHash
	}
	return c, nil
}

// Append computes the event digest, assigns the next sequence number, links
// the record to its predecessor, and persists atomically. A transient store
// failure is retried once before surfacing Unavailable.
func (c *Chain) Append(ctx context.Context, ev Event) (*Record, error) {
	payload, digest, err := ev.Canonicalize()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode audit event")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := &Record{
		Seq:        c.lastSeq + 1,
		Type:       ev.Type,
		IdentityID: ev.IdentityID,
		Payload:    payload,
		Digest:     digest,
		Timestamp:  ev.Timestamp,
		LinkHash:   Link(c.lastLink, digest),
	}

	if err := c.store.Append(ctx, rec); err != nil {
		if err = c.store.Append(ctx, rec); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "append audit record")
		}
	}
	c.lastSeq = rec.Seq
	c.lastLink = rec.LinkHash

	if c.publisher != nil {
		go c.publish(rec)
	}
	return rec, nil
}

func (c *Chain) publish(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.publisher.Publish(ctx, rec); err != nil {
		c.logger.Warn("audit record mirror failed", "seq", rec.Seq, "error", err)
	}
}

// VerifyChain recomputes content digests and link hashes across [from, to]
// and confirms equality with the stored values. A mismatch returns ok=false
// with the offending sequence number (not an error) and halts the chain.
// to == 0 means "through the current head".
func (c *Chain) VerifyChain(ctx context.Context, from, to uint64) (ok bool, firstBad uint64, err error) {
	if from == 0 {
		from = 1
	}
	if to == 0 {
		to = c.Head()
	}
	if to < from {
		return false, 0, dErrors.Newf(dErrors.CodeInvalidInput, "invalid range [%d, %d]", from, to)
	}

	// Anchor the recomputation: genesis links from zeros, anything later from
	// the stored link of its predecessor.
	var prevLink []byte
	if from > 1 {
		prev, err := c.store.Range(ctx, from-1, from-1)
		if err != nil {
			return false, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "read audit anchor record")
		}
		if len(prev) != 1 {
			return c.fail(from - 1), from - 1, nil
		}
		prevLink = prev[0].LinkHash
	}

	records, err := c.store.Range(ctx, from, to)
	if err != nil {
		return false, 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "read audit records")
	}

	expect := from
	for _, rec := range records {
		if rec.Seq != expect {
			return c.fail(expect), expect, nil
		}
		if !bytes.Equal(sha256Sum(rec.Payload), rec.Digest) {
			return c.fail(rec.Seq), rec.Seq, nil
		}
		if !bytes.Equal(Link(prevLink, rec.Digest), rec.LinkHash) {
			return c.fail(rec.Seq), rec.Seq, nil
		}
		prevLink = rec.LinkHash
		expect++
	}
	if expect != to+1 {
		// Records missing from the tail of the range.
		return c.fail(expect), expect, nil
	}
	return true, 0, nil
}

func (c *Chain) fail(seq uint64) bool {
	c.halted.Store(true)
	c.logger.Error("audit chain tamper detected", "seq", seq)
	return false
}

// Head returns the current last sequence number.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Halted reports whether tampering has been detected. While halted, the
// orchestrator refuses to issue decisions.
func (c *Chain) Halted() bool { return c.halted.Load() }

// ResetHalt clears the tamper flag after operator investigation.
func (c *Chain) ResetHalt() { c.halted.Store(false) }
