package changestream

import (
	"context"

	"github.com/roach88/crr/internal/engine"
)

// SyncResult summarizes one Sync call.
type SyncResult struct {
	// Shipped is the number of records sent.
	Shipped int

	// Accepted is the number of records that changed the receiver.
	Accepted int

	// Rejected and Noop count the records the receiver kept out.
	Rejected int
	Noop     int

	// Watermark is the receiver's new watermark for the sender.
	Watermark int64
}

// Sync pulls every change from into to that to has not seen, one page per
// changeset, resuming at to's stored watermark for from. Records that
// originated at to are not sent back.
func Sync(ctx context.Context, from, to *engine.Engine, opts ...CursorOption) (SyncResult, error) {
	since, err := to.Store().PeerWatermark(ctx, from.SiteID())
	if err != nil {
		return SyncResult{}, err
	}

	opts = append(opts, ExcludeSite(to.SiteID()))
	cur := NewCursor(from, since, opts...)
	in := NewInbound(to)

	res := SyncResult{Watermark: since}
	for {
		cs, err := cur.NextChangeset(ctx)
		if err != nil {
			return res, err
		}
		if len(cs.Changes) == 0 && cs.Until == res.Watermark {
			return res, nil
		}

		applied, err := in.Receive(ctx, cs)
		if err != nil {
			return res, err
		}
		res.Shipped += len(cs.Changes)
		res.Accepted += applied.Accepted
		res.Rejected += applied.Rejected
		res.Noop += applied.Noop
		res.Watermark = cs.Until

		if len(cs.Changes) == 0 {
			return res, nil
		}
	}
}
