package base

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"go.dedis.ch/kyber/v3"
)

const (
	UID string = "raffle"
)

// Phase is the lottery state. Entries are accepted only while Open; exactly
// one randomness request is outstanding while Drawing.
type Phase int

const (
	Open Phase = iota
	Drawing
)

func (p Phase) String() string {
	switch p {
	case Open:
		return "open"
	case Drawing:
		return "drawing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Config is set once through InitUnit and immutable afterwards.
type Config struct {
	// FeeValue is the minimum payment required per entry.
	FeeValue uint64
	// Interval is the minimum time between two settlements.
	Interval time.Duration
	// ConfirmationDelay is how long the beacon waits before delivering.
	ConfirmationDelay time.Duration
	// Words is the number of random words requested per draw.
	Words int
	// MaxWords is the callback limit announced to the beacon.
	MaxWords int
	// BeaconPublic authenticates fulfillment callbacks.
	BeaconPublic kyber.Point
}

// Player is one entry in the current round. The same key may appear multiple
// times; every entry is a separate ticket. Sig is a Schnorr signature over
// EnterDigest(Key, fee) and authorizes debiting the fee from the key's
// account.
type Player struct {
	Key kyber.Point
	Sig []byte
}

// RoundRecord is the settled outcome of one round.
type RoundRecord struct {
	Round   uint64
	Winner  kyber.Point
	Index   int
	Players int
	Prize   uint64
	Request string
	Time    int64
}

// UpkeepStatus holds the four facts a draw-start depends on. The predicate
// is recomputed inside PerformUpkeep; callers cannot pass it in.
type UpkeepStatus struct {
	Open            bool
	IntervalElapsed bool
	HasBalance      bool
	HasPlayers      bool
}

func (u UpkeepStatus) Ready() bool {
	return u.Open && u.IntervalElapsed && u.HasBalance && u.HasPlayers
}

func (u UpkeepStatus) String() string {
	return fmt.Sprintf("open=%v intervalElapsed=%v hasBalance=%v hasPlayers=%v",
		u.Open, u.IntervalElapsed, u.HasBalance, u.HasPlayers)
}

// IntervalElapsed reports whether the configured interval has passed between
// the last settlement and now, both in unix nanoseconds.
func IntervalElapsed(lastDraw int64, now int64, interval time.Duration) bool {
	return now-lastDraw >= interval.Nanoseconds()
}

// WinnerIndex selects the winning ticket. The modulo makes the selection
// slightly biased towards low indices whenever the entry count does not
// divide 2^64; with small pools the bias is negligible and accepted.
// The caller guards count > 0.
func WinnerIndex(value uint64, count int) int {
	return int(value % uint64(count))
}

// EnterDigest is the message a player signs to join: it binds the key to the
// fee so the signature authorizes exactly that payment.
func EnterDigest(key kyber.Point, fee uint64) ([]byte, error) {
	buf, err := key.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(buf)
	feeBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(feeBuf, fee)
	h.Write(feeBuf)
	return h.Sum(nil), nil
}

// AccountID maps a public key to its ledger account.
func AccountID(key kyber.Point) (string, error) {
	buf, err := key.MarshalBinary()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil)), nil
}
