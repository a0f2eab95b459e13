package raffle

import (
	"time"

	bbase "github.com/codesport/raffle-vrf/beacon/base"
	"github.com/codesport/raffle-vrf/raffle/base"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
)

type InitUnitRequest struct {
	Roster *onet.Roster
	Cfg    base.Config
}

type InitUnitReply struct{}

// FundRequest credits a player account. It stands in for the balance
// substrate; entries are paid out of the funded accounts.
type FundRequest struct {
	Key    kyber.Point
	Amount uint64
}

type FundReply struct {
	Balance uint64
}

type EnterRequest struct {
	Key kyber.Point
	Sig []byte
	Fee uint64
}

type EnterReply struct {
	Index   int
	Players int
}

type CheckUpkeepRequest struct{}

type CheckUpkeepReply struct {
	Status  base.UpkeepStatus
	Balance uint64
	Players int
	Phase   base.Phase
}

type PerformUpkeepRequest struct{}

type PerformUpkeepReply struct {
	ID bbase.RequestID
}

type StatusRequest struct{}

type StatusReply struct {
	Phase    base.Phase
	Players  int
	Balance  uint64
	Round    uint64
	Pending  bbase.RequestID
	LastDraw int64
	// Winner is the hex-encoded key of the most recent winner, empty
	// before the first settlement.
	Winner   string
	FeeValue uint64
	Interval time.Duration
}

type GetPlayersRequest struct{}

type GetPlayersReply struct {
	Players []base.Player
}

type HistoryRequest struct{}

type HistoryReply struct {
	Records []base.RoundRecord
}
