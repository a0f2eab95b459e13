package base

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3/network"
)

const (
	UID string = "beacon"
)

// RequestID correlates a scheduled randomness request with the callback that
// fulfills it. A zero RequestID is never issued.
type RequestID [32]byte

func init() {
	network.RegisterMessages(&Fulfill{}, &FulfillReply{})
}

func NewRequestID(in []byte) RequestID {
	var id RequestID
	copy(id[:], in)
	return id
}

func GenerateRequestID() RequestID {
	slc := make([]byte, 32)
	random.Bytes(slc, random.New())
	return NewRequestID(slc)
}

func (id RequestID) IsZero() bool {
	return id == RequestID{}
}

func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// Fulfill is the callback message a beacon sends to the requesting service
// once the confirmation delay has passed. Sig is a BLS signature (bn256)
// over FulfillDigest(ID, Values), so the receiver can check that the values
// were produced by the provider it was configured with.
type Fulfill struct {
	ID     RequestID
	Values []uint64
	Sig    []byte
}

type FulfillReply struct{}

// FulfillDigest binds the random values to their request identifier.
func FulfillDigest(id RequestID, values []uint64) []byte {
	h := sha256.New()
	h.Write(id[:])
	buf := make([]byte, 8)
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf, v)
		h.Write(buf)
	}
	return h.Sum(nil)
}

// DeriveValues expands a signature into count random words.
func DeriveValues(sig []byte, count int) []uint64 {
	values := make([]uint64, count)
	buf := make([]byte, 8)
	for i := 0; i < count; i++ {
		h := sha256.New()
		h.Write(sig)
		binary.LittleEndian.PutUint64(buf, uint64(i))
		h.Write(buf)
		digest := h.Sum(nil)
		values[i] = binary.LittleEndian.Uint64(digest[:8])
	}
	return values
}
