package changestream

import (
	"context"
	"iter"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/store"
)

// DefaultPageSize is the record budget of one cursor page.
const DefaultPageSize = 500

// Cursor pages through a replica's change stream.
//
// Thread-safety: a Cursor is not safe for concurrent use.
type Cursor struct {
	engine    *engine.Engine
	watermark int64
	pageSize  int
	exclude   []byte
}

// CursorOption configures a Cursor.
type CursorOption func(*Cursor)

// WithPageSize sets the record budget of a page. A page still holds whole
// db_versions, so it can exceed n when one version alone does. n <= 0
// means unbounded pages.
func WithPageSize(n int) CursorOption {
	return func(c *Cursor) {
		c.pageSize = n
	}
}

// ExcludeSite skips records whose clock originated at site, typically
// the peer the records are being sent to.
func ExcludeSite(site []byte) CursorOption {
	return func(c *Cursor) {
		c.exclude = site
	}
}

// NewCursor creates a cursor yielding records with db_version > since.
func NewCursor(e *engine.Engine, since int64, opts ...CursorOption) *Cursor {
	c := &Cursor{
		engine:    e,
		watermark: since,
		pageSize:  DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watermark returns the highest db_version fully consumed.
func (c *Cursor) Watermark() int64 {
	return c.watermark
}

// Next returns the next page and advances the watermark past it. An empty
// page means the cursor has caught up; calling Next again later picks up
// records written since.
func (c *Cursor) Next(ctx context.Context) ([]ir.Change, error) {
	page, err := c.engine.Store().ChangesSince(ctx, store.ChangeQuery{
		Since:       c.watermark,
		Limit:       max(c.pageSize, 0),
		ExcludeSite: c.exclude,
	})
	if err != nil {
		return nil, err
	}

	local := c.engine.SiteID()
	for i := range page.Changes {
		if page.Changes[i].SiteID == nil {
			page.Changes[i].SiteID = local
		}
	}

	c.watermark = page.Through
	c.engine.Metrics().RecordCursor(len(page.Changes))
	return page.Changes, nil
}

// All yields every record until the cursor has caught up. Iteration stops
// after the first error.
func (c *Cursor) All(ctx context.Context) iter.Seq2[ir.Change, error] {
	return func(yield func(ir.Change, error) bool) {
		for {
			page, err := c.Next(ctx)
			if err != nil {
				yield(ir.Change{}, err)
				return
			}
			if len(page) == 0 {
				return
			}
			for _, ch := range page {
				if !yield(ch, nil) {
					return
				}
			}
		}
	}
}

// NextChangeset wraps the next page as a changeset from this replica.
func (c *Cursor) NextChangeset(ctx context.Context) (ir.Changeset, error) {
	since := c.watermark
	page, err := c.Next(ctx)
	if err != nil {
		return ir.Changeset{}, err
	}
	return ir.Changeset{
		Sender:  c.engine.SiteID(),
		Since:   since,
		Until:   c.watermark,
		Changes: page,
	}, nil
}

// Export collects every record after since into one changeset.
func Export(ctx context.Context, e *engine.Engine, since int64, opts ...CursorOption) (ir.Changeset, error) {
	c := NewCursor(e, since, opts...)
	cs := ir.Changeset{Sender: e.SiteID(), Since: since, Changes: []ir.Change{}}
	for ch, err := range c.All(ctx) {
		if err != nil {
			return ir.Changeset{}, err
		}
		cs.Changes = append(cs.Changes, ch)
	}
	cs.Until = c.Watermark()
	return cs, nil
}
