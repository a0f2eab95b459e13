package beacon

import (
	"fmt"
	"sync"
	"time"

	"github.com/codesport/raffle-vrf/beacon/base"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

var ServiceName = "RandBeaconService"
var beaconID onet.ServiceID
var storageKey = []byte("storage")

var suite = pairing.NewSuiteBn256()

func init() {
	var err error
	beaconID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
	network.RegisterMessages(&storage{}, &InitUnitRequest{}, &InitUnitReply{},
		&ScheduleRequest{}, &ScheduleReply{}, &PublicKeyRequest{},
		&PublicKeyReply{})
}

type storage struct {
	MaxWords int
	Counter  uint64
	sync.Mutex
}

// Service signs randomness requests with a bn256 keypair generated at
// startup. Each request gets a fresh identifier; the random words are
// derived from a BLS signature over that identifier and delivered to the
// requesting service after the confirmation delay.
type Service struct {
	*onet.ServiceProcessor
	storage *storage
	roster  *onet.Roster
	private kyber.Scalar
	public  kyber.Point
}

func (s *Service) InitUnit(req *InitUnitRequest) (*InitUnitReply, error) {
	s.roster = req.Roster
	s.storage.Lock()
	s.storage.MaxWords = req.MaxWords
	s.storage.Unlock()
	s.save()
	return &InitUnitReply{Public: s.public}, nil
}

func (s *Service) PublicKey(req *PublicKeyRequest) (*PublicKeyReply, error) {
	return &PublicKeyReply{Public: s.public}, nil
}

// Schedule issues a request identifier and returns immediately. The random
// words are delivered later through the Fulfill callback; nothing awaits
// them here.
func (s *Service) Schedule(req *ScheduleRequest) (*ScheduleReply, error) {
	if req.Words <= 0 {
		return nil, xerrors.New("schedule: word count must be positive")
	}
	if req.Receiver == nil || req.Callback == "" {
		return nil, xerrors.New("schedule: missing callback destination")
	}
	s.storage.Lock()
	if s.storage.MaxWords > 0 && req.Words > s.storage.MaxWords {
		s.storage.Unlock()
		return nil, xerrors.Errorf("schedule: %d words exceed the callback"+
			" limit of %d", req.Words, s.storage.MaxWords)
	}
	s.storage.Counter++
	ctr := s.storage.Counter
	s.storage.Unlock()
	s.save()
	id := base.GenerateRequestID()
	log.Lvlf2("%s: scheduled randomness request %s (#%d) for %s on %s",
		s.ServerIdentity(), id, ctr, req.Callback, req.Receiver)
	go s.deliver(id, req)
	return &ScheduleReply{ID: id}, nil
}

func (s *Service) deliver(id base.RequestID, req *ScheduleRequest) {
	time.Sleep(req.Delay)
	seed, err := bls.Sign(suite, s.private, id[:])
	if err != nil {
		log.Errorf("Signing request %s failed: %v", id, err)
		return
	}
	values := base.DeriveValues(seed, req.Words)
	sig, err := bls.Sign(suite, s.private, base.FulfillDigest(id, values))
	if err != nil {
		log.Errorf("Signing fulfillment %s failed: %v", id, err)
		return
	}
	cl := onet.NewClient(cothority.Suite, req.Callback)
	err = cl.SendProtobuf(req.Receiver, &base.Fulfill{ID: id, Values: values,
		Sig: sig}, &base.FulfillReply{})
	if err != nil {
		log.Errorf("Delivering randomness %s to %s failed: %v", id,
			req.Callback, err)
		return
	}
	log.Lvlf2("%s: delivered randomness %s", s.ServerIdentity(), id)
}

func (s *Service) save() error {
	s.storage.Lock()
	defer s.storage.Unlock()
	err := s.Save(storageKey, s.storage)
	if err != nil {
		log.Errorf("Could not save data: %v", err)
		return err
	}
	return nil
}

func (s *Service) tryLoad() error {
	s.storage = &storage{}
	msg, err := s.Load(storageKey)
	if err != nil {
		log.Errorf("Load storage failed: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}
	var ok bool
	s.storage, ok = msg.(*storage)
	if !ok {
		return fmt.Errorf("Store of wrong type")
	}
	return nil
}

func GetServiceID() onet.ServiceID {
	return beaconID
}

func newService(c *onet.Context) (onet.Service, error) {
	private, public := bls.NewKeyPair(suite, random.New())
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		private:          private,
		public:           public,
	}
	if err := s.RegisterHandlers(s.InitUnit, s.PublicKey, s.Schedule); err != nil {
		return nil, err
	}
	if err := s.tryLoad(); err != nil {
		return nil, err
	}
	return s, nil
}
