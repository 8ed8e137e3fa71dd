package facade

import (
	"context"
	"errors"

	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/ledger"
)

// =============================================================================
// ERROR NORMALIZATION - the façade boundary
// =============================================================================

// Normalize maps a gateway error into the insurance taxonomy. Errors that
// already belong to the taxonomy pass through unchanged.
func Normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	if k := insurance.KindOf(err); k != insurance.KindUnknown {
		return err
	}

	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		switch lerr.Kind {
		case ledger.KindRevert:
			reason := lerr.Reason
			if reason == "" {
				reason = insurance.GenericRevertMessage
			}
			return &insurance.RevertError{Reason: reason}
		case ledger.KindNotFound:
			return insurance.Invalid(insurance.CodeNotFound, "%s %s does not exist", lerr.Op, lerr.Reason)
		default:
			if lerr.Op != "" {
				op = lerr.Op
			}
			return &insurance.TransportError{Op: op, Err: err}
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &insurance.TransportError{Op: op, Err: err}
	}
	return err
}
