package beacon

import (
	"time"

	"github.com/codesport/raffle-vrf/beacon/base"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

type InitUnitRequest struct {
	Roster *onet.Roster
	// MaxWords caps the number of random words delivered per callback.
	// Zero means no cap.
	MaxWords int
}

type InitUnitReply struct {
	Public kyber.Point
}

// ScheduleRequest asks the beacon to issue a request identifier now and to
// deliver the random words later, once Delay has passed. The callback is
// sent to the Callback service on the Receiver conode.
type ScheduleRequest struct {
	Receiver *network.ServerIdentity
	Callback string
	Words    int
	Delay    time.Duration
}

type ScheduleReply struct {
	ID base.RequestID
}

type PublicKeyRequest struct{}

type PublicKeyReply struct {
	Public kyber.Point
}
