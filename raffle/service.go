package raffle

import (
	"fmt"
	"sync"
	"time"

	"github.com/codesport/raffle-vrf/beacon"
	bbase "github.com/codesport/raffle-vrf/beacon/base"
	"github.com/codesport/raffle-vrf/ledger"
	"github.com/codesport/raffle-vrf/raffle/base"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

var ServiceName = "RaffleService"
var raffleID onet.ServiceID
var storageKey = []byte("storage")

// poolAccount holds the fees collected since the last payout.
const poolAccount = "pool"

var blsSuite = pairing.NewSuiteBn256()

func init() {
	var err error
	raffleID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
	network.RegisterMessages(&storage{}, &InitUnitRequest{}, &InitUnitReply{},
		&FundRequest{}, &FundReply{}, &EnterRequest{}, &EnterReply{},
		&CheckUpkeepRequest{}, &CheckUpkeepReply{}, &PerformUpkeepRequest{},
		&PerformUpkeepReply{}, &StatusRequest{}, &StatusReply{},
		&GetPlayersRequest{}, &GetPlayersReply{}, &HistoryRequest{},
		&HistoryReply{})
}

type storage struct {
	Cfg     base.Config
	Phase   base.Phase
	Pending bbase.RequestID
	Players []base.Player
	// LastDraw is unix nanoseconds of the last settlement (or InitUnit).
	LastDraw int64
	Winner   kyber.Point
	Round    uint64
	History  []base.RoundRecord
	Book     *ledger.Ledger
	sync.Mutex
}

// Service runs the raffle state machine. Every externally-triggered
// operation takes the storage lock for its whole duration, so operations
// are serialized like they would be on a chain.
type Service struct {
	*onet.ServiceProcessor
	storage *storage
	roster  *onet.Roster
	book    ledger.Book
}

func (s *Service) InitUnit(req *InitUnitRequest) (*InitUnitReply, error) {
	if req.Cfg.FeeValue == 0 {
		return nil, xerrors.New("init: entrance fee must be positive")
	}
	if req.Cfg.Words <= 0 {
		return nil, xerrors.New("init: word count must be positive")
	}
	if req.Cfg.BeaconPublic == nil {
		return nil, xerrors.New("init: missing beacon public key")
	}
	s.storage.Lock()
	if s.storage.Cfg.BeaconPublic != nil {
		s.storage.Unlock()
		return nil, xerrors.New("init: unit already initialized")
	}
	s.roster = req.Roster
	s.storage.Cfg = req.Cfg
	s.storage.Phase = base.Open
	s.storage.LastDraw = time.Now().UnixNano()
	s.storage.Book = ledger.NewLedger()
	s.book = s.storage.Book
	s.storage.Unlock()
	s.save()
	log.Lvlf2("%s: raffle initialized (fee %d, interval %s)",
		s.ServerIdentity(), req.Cfg.FeeValue, req.Cfg.Interval)
	return &InitUnitReply{}, nil
}

func (s *Service) Fund(req *FundRequest) (*FundReply, error) {
	s.storage.Lock()
	reply, err := s.fund(req)
	s.storage.Unlock()
	if err != nil {
		return nil, err
	}
	s.save()
	return reply, nil
}

func (s *Service) fund(req *FundRequest) (*FundReply, error) {
	if err := s.initialized(); err != nil {
		return nil, err
	}
	acct, err := base.AccountID(req.Key)
	if err != nil {
		return nil, xerrors.Errorf("deriving account: %v", err)
	}
	if err := s.book.Deposit(acct, req.Amount); err != nil {
		return nil, xerrors.Errorf("funding account: %w", err)
	}
	return &FundReply{Balance: s.book.Balance(acct)}, nil
}

func (s *Service) Enter(req *EnterRequest) (*EnterReply, error) {
	s.storage.Lock()
	reply, err := s.enter(req)
	s.storage.Unlock()
	if err != nil {
		return nil, err
	}
	s.save()
	return reply, nil
}

func (s *Service) enter(req *EnterRequest) (*EnterReply, error) {
	if err := s.initialized(); err != nil {
		return nil, err
	}
	st := s.storage
	if st.Phase != base.Open {
		return nil, xerrors.Errorf("enter: %w", base.ErrRoundNotOpen)
	}
	if req.Fee < st.Cfg.FeeValue {
		return nil, xerrors.Errorf("enter: paid %d, need %d: %w", req.Fee,
			st.Cfg.FeeValue, base.ErrInsufficientFee)
	}
	digest, err := base.EnterDigest(req.Key, req.Fee)
	if err != nil {
		return nil, xerrors.Errorf("hashing entry: %v", err)
	}
	if err := schnorr.Verify(cothority.Suite, req.Key, digest, req.Sig); err != nil {
		return nil, xerrors.Errorf("verifying entry signature: %v", err)
	}
	acct, err := base.AccountID(req.Key)
	if err != nil {
		return nil, xerrors.Errorf("deriving account: %v", err)
	}
	if err := s.book.Transfer(acct, poolAccount, req.Fee); err != nil {
		return nil, xerrors.Errorf("collecting fee: %w", err)
	}
	st.Players = append(st.Players, base.Player{Key: req.Key, Sig: req.Sig})
	log.Lvlf2("%s: entered ticket %d (fee %d, pool %d)", s.ServerIdentity(),
		len(st.Players)-1, req.Fee, s.book.Balance(poolAccount))
	return &EnterReply{Index: len(st.Players) - 1,
		Players: len(st.Players)}, nil
}

func (s *Service) CheckUpkeep(req *CheckUpkeepRequest) (*CheckUpkeepReply, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	if err := s.initialized(); err != nil {
		return nil, err
	}
	status, balance, players := s.upkeepStatus(time.Now().UnixNano())
	return &CheckUpkeepReply{Status: status, Balance: balance,
		Players: players, Phase: s.storage.Phase}, nil
}

func (s *Service) PerformUpkeep(req *PerformUpkeepRequest) (*PerformUpkeepReply, error) {
	s.storage.Lock()
	reply, err := s.performUpkeep()
	s.storage.Unlock()
	if err != nil {
		return nil, err
	}
	s.save()
	return reply, nil
}

// performUpkeep recomputes the predicate instead of trusting the trigger;
// the trigger may fire when conditions no longer hold.
func (s *Service) performUpkeep() (*PerformUpkeepReply, error) {
	if err := s.initialized(); err != nil {
		return nil, err
	}
	st := s.storage
	status, balance, players := s.upkeepStatus(time.Now().UnixNano())
	if !status.Ready() {
		return nil, &base.UpkeepError{Status: status, Balance: balance,
			Players: players, Phase: st.Phase}
	}
	bsvc, err := s.beaconService()
	if err != nil {
		return nil, err
	}
	reply, err := bsvc.Schedule(&beacon.ScheduleRequest{
		Receiver: s.ServerIdentity(),
		Callback: ServiceName,
		Words:    st.Cfg.Words,
		Delay:    st.Cfg.ConfirmationDelay,
	})
	if err != nil {
		return nil, xerrors.Errorf("requesting randomness: %v", err)
	}
	st.Phase = base.Drawing
	st.Pending = reply.ID
	log.Lvlf2("%s: draw requested, id %s (%d players, pool %d)",
		s.ServerIdentity(), reply.ID, players, balance)
	return &PerformUpkeepReply{ID: reply.ID}, nil
}

// Fulfill is the beacon's callback. The caller is authenticated by the BLS
// signature over (id, values), checked against the configured beacon key.
func (s *Service) Fulfill(req *bbase.Fulfill) (*bbase.FulfillReply, error) {
	s.storage.Lock()
	reply, err := s.fulfill(req)
	s.storage.Unlock()
	if err != nil {
		return nil, err
	}
	s.save()
	return reply, nil
}

func (s *Service) fulfill(req *bbase.Fulfill) (*bbase.FulfillReply, error) {
	if err := s.initialized(); err != nil {
		return nil, err
	}
	st := s.storage
	if st.Phase != base.Drawing {
		return nil, xerrors.Errorf("fulfill %s: %w", req.ID,
			base.ErrStaleRequest)
	}
	if req.ID != st.Pending {
		return nil, xerrors.Errorf("fulfill %s: outstanding id is %s: %w",
			req.ID, st.Pending, base.ErrStaleRequest)
	}
	if len(req.Values) == 0 {
		return nil, xerrors.Errorf("fulfill %s: empty value list", req.ID)
	}
	err := bls.Verify(blsSuite, st.Cfg.BeaconPublic,
		bbase.FulfillDigest(req.ID, req.Values), req.Sig)
	if err != nil {
		return nil, xerrors.Errorf("verifying beacon signature: %v", err)
	}
	if len(st.Players) == 0 {
		return nil, xerrors.Errorf("fulfill %s: %w", req.ID, base.ErrNoPlayers)
	}
	count := len(st.Players)
	idx := base.WinnerIndex(req.Values[0], count)
	winner := st.Players[idx]
	acct, err := base.AccountID(winner.Key)
	if err != nil {
		return nil, xerrors.Errorf("deriving winner account: %v", err)
	}
	prize := s.book.Balance(poolAccount)
	// The transfer comes first: a failed payout must not mark the round
	// settled, so the phase stays at Drawing until recovery.
	if err := s.book.Transfer(poolAccount, acct, prize); err != nil {
		return nil, xerrors.Errorf("paying %d to ticket %d: %v: %w", prize,
			idx, err, base.ErrPayoutFailed)
	}
	now := time.Now().UnixNano()
	st.Winner = winner.Key
	st.History = append(st.History, base.RoundRecord{
		Round:   st.Round,
		Winner:  winner.Key,
		Index:   idx,
		Players: count,
		Prize:   prize,
		Request: req.ID.String(),
		Time:    now,
	})
	st.Players = nil
	st.LastDraw = now
	st.Phase = base.Open
	st.Pending = bbase.RequestID{}
	st.Round++
	log.Lvlf2("%s: winner picked: ticket %d of %d, prize %d (request %s)",
		s.ServerIdentity(), idx, count, prize, req.ID)
	return &bbase.FulfillReply{}, nil
}

func (s *Service) Status(req *StatusRequest) (*StatusReply, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	st := s.storage
	reply := &StatusReply{
		Phase:    st.Phase,
		Players:  len(st.Players),
		Round:    st.Round,
		Pending:  st.Pending,
		LastDraw: st.LastDraw,
		FeeValue: st.Cfg.FeeValue,
		Interval: st.Cfg.Interval,
	}
	if s.book != nil {
		reply.Balance = s.book.Balance(poolAccount)
	}
	if st.Winner != nil {
		hexKey, err := encoding.PointToStringHex(cothority.Suite, st.Winner)
		if err != nil {
			return nil, xerrors.Errorf("encoding winner: %v", err)
		}
		reply.Winner = hexKey
	}
	return reply, nil
}

func (s *Service) GetPlayers(req *GetPlayersRequest) (*GetPlayersReply, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	players := make([]base.Player, len(s.storage.Players))
	copy(players, s.storage.Players)
	return &GetPlayersReply{Players: players}, nil
}

func (s *Service) History(req *HistoryRequest) (*HistoryReply, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	records := make([]base.RoundRecord, len(s.storage.History))
	copy(records, s.storage.History)
	return &HistoryReply{Records: records}, nil
}

// upkeepStatus computes the four facts. Callers hold the storage lock.
func (s *Service) upkeepStatus(now int64) (base.UpkeepStatus, uint64, int) {
	st := s.storage
	var balance uint64
	if s.book != nil {
		balance = s.book.Balance(poolAccount)
	}
	status := base.UpkeepStatus{
		Open:            st.Phase == base.Open,
		IntervalElapsed: base.IntervalElapsed(st.LastDraw, now, st.Cfg.Interval),
		HasBalance:      balance > 0,
		HasPlayers:      len(st.Players) > 0,
	}
	return status, balance, len(st.Players)
}

func (s *Service) initialized() error {
	if s.storage.Cfg.BeaconPublic == nil || s.book == nil {
		return xerrors.New("unit not initialized")
	}
	return nil
}

func (s *Service) beaconService() (*beacon.Service, error) {
	bsvc, ok := s.Service(beacon.ServiceName).(*beacon.Service)
	if !ok {
		return nil, xerrors.New("beacon service not available")
	}
	return bsvc, nil
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
	if s.storage.Book != nil {
		s.book = s.storage.Book
	}
	return nil
}

func GetServiceID() onet.ServiceID {
	return raffleID
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
	}
	if err := s.RegisterHandlers(s.InitUnit, s.Fund, s.Enter, s.CheckUpkeep,
		s.PerformUpkeep, s.Fulfill, s.Status, s.GetPlayers,
		s.History); err != nil {
		return nil, err
	}
	if err := s.tryLoad(); err != nil {
		return nil, err
	}
	return s, nil
}
