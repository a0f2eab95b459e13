package base

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrInsufficientFee rejects an entry paying less than the fee.
	ErrInsufficientFee = xerrors.New("insufficient fee")
	// ErrRoundNotOpen rejects an entry while a draw is in progress.
	ErrRoundNotOpen = xerrors.New("round not open")
	// ErrNoPlayers guards settlement against an empty ledger.
	ErrNoPlayers = xerrors.New("no players at settlement")
	// ErrStaleRequest rejects a callback that does not match the single
	// outstanding randomness request.
	ErrStaleRequest = xerrors.New("stale or unknown randomness request")
	// ErrPayoutFailed marks a settlement whose transfer failed; the round
	// stays in the drawing phase and needs administrative recovery.
	ErrPayoutFailed = xerrors.New("payout transfer failed")
)

// UpkeepError is returned by PerformUpkeep when the predicate does not hold.
// It carries the observed facts for diagnosis.
type UpkeepError struct {
	Status  UpkeepStatus
	Balance uint64
	Players int
	Phase   Phase
}

func (e *UpkeepError) Error() string {
	return fmt.Sprintf("upkeep not needed: %s (balance=%d players=%d phase=%s)",
		e.Status, e.Balance, e.Players, e.Phase)
}
