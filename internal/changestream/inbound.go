package changestream

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/roach88/crr/internal/engine"
	"github.com/roach88/crr/internal/ir"
	"github.com/roach88/crr/internal/store"
)

var (
	// ErrNoSender is returned for a changeset without a sender site id.
	ErrNoSender = errors.New("changeset has no sender")

	// ErrOwnChangeset is returned when a replica is handed its own changes.
	ErrOwnChangeset = errors.New("changeset originates at this replica")
)

// GapError refuses a changeset that starts beyond what the receiver has
// applied from the sender. The sender should resend from Have.
type GapError struct {
	Sender []byte
	Have   int64
	Since  int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("changeset gap from %x: have %d, changeset starts at %d", e.Sender, e.Have, e.Since)
}

// IsGapError reports whether err is a *GapError.
func IsGapError(err error) bool {
	var ge *GapError
	return errors.As(err, &ge)
}

// Inbound applies changesets from peers to one replica.
type Inbound struct {
	engine *engine.Engine
}

// NewInbound creates an inbound applier for e.
func NewInbound(e *engine.Engine) *Inbound {
	return &Inbound{engine: e}
}

// Receive merges a changeset and advances the sender's watermark to
// cs.Until. Records are merged in arrival order. Overlapping an already
// applied range is harmless; merging is idempotent.
func (in *Inbound) Receive(ctx context.Context, cs ir.Changeset) (engine.ApplyResult, error) {
	if len(cs.Sender) == 0 {
		return engine.ApplyResult{}, ErrNoSender
	}
	if bytes.Equal(cs.Sender, in.engine.SiteID()) {
		return engine.ApplyResult{}, ErrOwnChangeset
	}
	if cs.Since > cs.Until {
		return engine.ApplyResult{}, fmt.Errorf("changeset range (%d, %d] is inverted", cs.Since, cs.Until)
	}

	hook := func(ctx context.Context, tx *store.Tx) error {
		have, err := tx.PeerWatermark(ctx, cs.Sender)
		if err != nil {
			return err
		}
		if cs.Since > have {
			return &GapError{Sender: bytes.Clone(cs.Sender), Have: have, Since: cs.Since}
		}
		if cs.Until > have {
			return tx.SetPeerWatermark(ctx, cs.Sender, cs.Until)
		}
		return nil
	}

	res, err := in.engine.Apply(ctx, cs.Changes, hook)
	if err != nil {
		var ge *GapError
		if errors.As(err, &ge) {
			in.engine.Logger().Warn("changeset refused",
				"sender", fmt.Sprintf("%x", cs.Sender),
				"have", ge.Have,
				"since", ge.Since,
			)
			in.engine.Metrics().RecordGap()
		}
		return res, err
	}

	in.engine.Logger().Debug("changeset received",
		"sender", fmt.Sprintf("%x", cs.Sender),
		"since", cs.Since,
		"until", cs.Until,
		"records", len(cs.Changes),
		"accepted", res.Accepted,
	)
	return res, nil
}
