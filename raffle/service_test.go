package raffle

import (
	"testing"
	"time"

	"github.com/codesport/raffle-vrf/beacon"
	bbase "github.com/codesport/raffle-vrf/beacon/base"
	"github.com/codesport/raffle-vrf/ledger"
	"github.com/codesport/raffle-vrf/raffle/base"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type testEnv struct {
	local      *onet.LocalTest
	roster     *onet.Roster
	root       *Service
	beaconRoot *beacon.Service
	// beaconPriv signs forged fulfillments when the config carries a
	// test-owned provider key instead of the real beacon's.
	beaconPriv kyber.Scalar
}

// newEnv starts a 3-node roster and initializes both units. When
// cfg.BeaconPublic is nil, a test-owned BLS keypair is generated and
// configured so tests can forge deterministic fulfillments.
func newEnv(t *testing.T, cfg base.Config) *testEnv {
	env := &testEnv{}
	env.local = onet.NewTCPTest(cothority.Suite)
	hosts, roster, _ := env.local.GenTree(3, true)
	env.roster = roster

	services := env.local.GetServices(hosts, raffleID)
	env.root = services[0].(*Service)
	bServices := env.local.GetServices(hosts, beacon.GetServiceID())
	env.beaconRoot = bServices[0].(*beacon.Service)

	_, err := env.beaconRoot.InitUnit(&beacon.InitUnitRequest{Roster: roster,
		MaxWords: 16})
	require.NoError(t, err)

	if cfg.FeeValue == 0 {
		cfg.FeeValue = 100
	}
	if cfg.Words == 0 {
		cfg.Words = 1
	}
	if cfg.BeaconPublic == nil {
		priv, pub := bls.NewKeyPair(blsSuite, random.New())
		env.beaconPriv = priv
		cfg.BeaconPublic = pub
	}
	_, err = env.root.InitUnit(&InitUnitRequest{Roster: roster, Cfg: cfg})
	require.NoError(t, err)
	return env
}

type player struct {
	priv kyber.Scalar
	pub  kyber.Point
}

func newPlayer() player {
	kp := key.NewKeyPair(cothority.Suite)
	return player{priv: kp.Private, pub: kp.Public}
}

func (p player) enterRequest(t *testing.T, fee uint64) *EnterRequest {
	digest, err := base.EnterDigest(p.pub, fee)
	require.NoError(t, err)
	sig, err := schnorr.Sign(cothority.Suite, p.priv, digest)
	require.NoError(t, err)
	return &EnterRequest{Key: p.pub, Sig: sig, Fee: fee}
}

func fundAndEnter(t *testing.T, s *Service, count int, fee uint64) []player {
	players := make([]player, count)
	for i := range players {
		players[i] = newPlayer()
		_, err := s.Fund(&FundRequest{Key: players[i].pub, Amount: 1000})
		require.NoError(t, err)
		reply, err := s.Enter(players[i].enterRequest(t, fee))
		require.NoError(t, err)
		require.Equal(t, i, reply.Index)
		require.Equal(t, i+1, reply.Players)
	}
	return players
}

// forceDrawing moves the state machine into Drawing with the given
// outstanding request, standing in for a scheduled beacon request.
func forceDrawing(s *Service, id bbase.RequestID) {
	s.storage.Lock()
	s.storage.Phase = base.Drawing
	s.storage.Pending = id
	s.storage.Unlock()
}

func signedFulfill(t *testing.T, priv kyber.Scalar, id bbase.RequestID,
	values []uint64) *bbase.Fulfill {
	sig, err := bls.Sign(blsSuite, priv, bbase.FulfillDigest(id, values))
	require.NoError(t, err)
	return &bbase.Fulfill{ID: id, Values: values, Sig: sig}
}

func TestInitUnitOnce(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	_, err := env.root.InitUnit(&InitUnitRequest{Roster: env.roster,
		Cfg: env.root.storage.Cfg})
	require.Error(t, err)
}

func TestEnterOrderAndPool(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	players := fundAndEnter(t, env.root, 3, 100)

	reply, err := env.root.GetPlayers(&GetPlayersRequest{})
	require.NoError(t, err)
	require.Len(t, reply.Players, 3)
	for i, p := range players {
		require.True(t, reply.Players[i].Key.Equal(p.pub))
	}

	status, err := env.root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, base.Open, status.Phase)
	require.Equal(t, 3, status.Players)
	require.Equal(t, uint64(300), status.Balance)

	// each player paid exactly the fee out of their funding
	fr, err := env.root.Fund(&FundRequest{Key: players[0].pub, Amount: 0})
	require.NoError(t, err)
	require.Equal(t, uint64(900), fr.Balance)
}

func TestEnterRejections(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	p := newPlayer()
	_, err := env.root.Fund(&FundRequest{Key: p.pub, Amount: 1000})
	require.NoError(t, err)

	// below the fee
	_, err = env.root.Enter(p.enterRequest(t, 99))
	require.True(t, xerrors.Is(err, base.ErrInsufficientFee))

	// signature does not match the declared fee
	bad := p.enterRequest(t, 100)
	bad.Fee = 200
	_, err = env.root.Enter(bad)
	require.Error(t, err)

	// account cannot cover the fee
	poor := newPlayer()
	_, err = env.root.Enter(poor.enterRequest(t, 100))
	require.True(t, xerrors.Is(err, ledger.ErrInsufficientFunds))

	// none of the rejected entries touched the ledger
	reply, err := env.root.GetPlayers(&GetPlayersRequest{})
	require.NoError(t, err)
	require.Len(t, reply.Players, 0)
	status, err := env.root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(0), status.Balance)
}

func TestEnterWhileDrawing(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	fundAndEnter(t, env.root, 1, 100)
	forceDrawing(env.root, bbase.GenerateRequestID())

	p := newPlayer()
	_, err := env.root.Fund(&FundRequest{Key: p.pub, Amount: 1000})
	require.NoError(t, err)
	_, err = env.root.Enter(p.enterRequest(t, 100))
	require.True(t, xerrors.Is(err, base.ErrRoundNotOpen))

	reply, err := env.root.GetPlayers(&GetPlayersRequest{})
	require.NoError(t, err)
	require.Len(t, reply.Players, 1)
}

func TestUpkeepPredicate(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	// fresh unit: no players, no balance
	check, err := env.root.CheckUpkeep(&CheckUpkeepRequest{})
	require.NoError(t, err)
	require.False(t, check.Status.Ready())
	require.True(t, check.Status.Open)
	require.False(t, check.Status.HasPlayers)
	require.False(t, check.Status.HasBalance)

	// the draw-start gate recomputes the same predicate
	_, err = env.root.PerformUpkeep(&PerformUpkeepRequest{})
	var ue *base.UpkeepError
	require.True(t, xerrors.As(err, &ue))
	require.False(t, ue.Status.HasPlayers)
	require.Equal(t, base.Open, ue.Phase)

	status, err := env.root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, base.Open, status.Phase)

	fundAndEnter(t, env.root, 2, 100)
	check, err = env.root.CheckUpkeep(&CheckUpkeepRequest{})
	require.NoError(t, err)
	require.True(t, check.Status.Ready())
	require.Equal(t, uint64(200), check.Balance)
	require.Equal(t, 2, check.Players)
}

func TestUpkeepIntervalGate(t *testing.T) {
	env := newEnv(t, base.Config{Interval: time.Hour})
	defer env.local.CloseAll()

	fundAndEnter(t, env.root, 2, 100)

	_, err := env.root.PerformUpkeep(&PerformUpkeepRequest{})
	var ue *base.UpkeepError
	require.True(t, xerrors.As(err, &ue))
	require.False(t, ue.Status.IntervalElapsed)
	require.True(t, ue.Status.HasPlayers)

	// backdate the last settlement past the interval
	env.root.storage.Lock()
	env.root.storage.LastDraw = time.Now().Add(-2 * time.Hour).UnixNano()
	env.root.storage.Unlock()

	check, err := env.root.CheckUpkeep(&CheckUpkeepRequest{})
	require.NoError(t, err)
	require.True(t, check.Status.Ready())
}

func TestUpkeepWhileDrawing(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	fundAndEnter(t, env.root, 2, 100)
	forceDrawing(env.root, bbase.GenerateRequestID())

	_, err := env.root.PerformUpkeep(&PerformUpkeepRequest{})
	var ue *base.UpkeepError
	require.True(t, xerrors.As(err, &ue))
	require.False(t, ue.Status.Open)
	require.Equal(t, base.Drawing, ue.Phase)
}

func TestFulfillStaleAndUnauthorized(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	fundAndEnter(t, env.root, 3, 100)
	pending := bbase.GenerateRequestID()
	forceDrawing(env.root, pending)

	// correlation id does not match the outstanding request
	_, err := env.root.Fulfill(signedFulfill(t, env.beaconPriv,
		bbase.GenerateRequestID(), []uint64{202}))
	require.True(t, xerrors.Is(err, base.ErrStaleRequest))

	// right id, wrong provider key
	wrongPriv, _ := bls.NewKeyPair(blsSuite, random.New())
	_, err = env.root.Fulfill(signedFulfill(t, wrongPriv, pending,
		[]uint64{202}))
	require.Error(t, err)
	require.False(t, xerrors.Is(err, base.ErrStaleRequest))

	// neither attempt settled anything
	status, err := env.root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, base.Drawing, status.Phase)
	require.Equal(t, 3, status.Players)
	require.Equal(t, uint64(300), status.Balance)

	// a fulfillment while no draw is outstanding is stale as well
	env.root.storage.Lock()
	env.root.storage.Phase = base.Open
	env.root.storage.Pending = bbase.RequestID{}
	env.root.storage.Unlock()
	_, err = env.root.Fulfill(signedFulfill(t, env.beaconPriv, pending,
		[]uint64{202}))
	require.True(t, xerrors.Is(err, base.ErrStaleRequest))
}

func TestFulfillNoPlayers(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	pending := bbase.GenerateRequestID()
	forceDrawing(env.root, pending)
	_, err := env.root.Fulfill(signedFulfill(t, env.beaconPriv, pending,
		[]uint64{202}))
	require.True(t, xerrors.Is(err, base.ErrNoPlayers))
}

func TestFulfillModuloSelection(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	players := fundAndEnter(t, env.root, 5, 100)
	pending := bbase.GenerateRequestID()
	forceDrawing(env.root, pending)

	// 202 mod 5 = 2
	_, err := env.root.Fulfill(signedFulfill(t, env.beaconPriv, pending,
		[]uint64{202}))
	require.NoError(t, err)

	history, err := env.root.History(&HistoryRequest{})
	require.NoError(t, err)
	require.Len(t, history.Records, 1)
	record := history.Records[0]
	require.Equal(t, 2, record.Index)
	require.Equal(t, 5, record.Players)
	require.Equal(t, uint64(500), record.Prize)
	require.True(t, record.Winner.Equal(players[2].pub))

	// funded 1000, paid 100, won 500
	fr, err := env.root.Fund(&FundRequest{Key: players[2].pub, Amount: 0})
	require.NoError(t, err)
	require.Equal(t, uint64(1400), fr.Balance)
}

func TestFulfillRoundTrip(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	players := fundAndEnter(t, env.root, 3, 100)
	before, err := env.root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(300), before.Balance)

	pending := bbase.GenerateRequestID()
	forceDrawing(env.root, pending)

	// 202 mod 3 = 1
	_, err = env.root.Fulfill(signedFulfill(t, env.beaconPriv, pending,
		[]uint64{202}))
	require.NoError(t, err)

	status, err := env.root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, base.Open, status.Phase)
	require.Equal(t, 0, status.Players)
	require.Equal(t, uint64(0), status.Balance)
	require.Equal(t, uint64(1), status.Round)
	require.True(t, status.Pending.IsZero())
	require.True(t, status.LastDraw >= before.LastDraw)
	require.NotEmpty(t, status.Winner)

	fr, err := env.root.Fund(&FundRequest{Key: players[1].pub, Amount: 0})
	require.NoError(t, err)
	require.Equal(t, uint64(1200), fr.Balance)

	// replaying the settled request must not pay twice
	_, err = env.root.Fulfill(signedFulfill(t, env.beaconPriv, pending,
		[]uint64{202}))
	require.True(t, xerrors.Is(err, base.ErrStaleRequest))
	fr, err = env.root.Fund(&FundRequest{Key: players[1].pub, Amount: 0})
	require.NoError(t, err)
	require.Equal(t, uint64(1200), fr.Balance)
}

type failingBook struct {
	ledger.Book
}

func (f failingBook) Transfer(from string, to string, amount uint64) error {
	return xerrors.New("substrate refused the transfer")
}

func TestFulfillPayoutFailure(t *testing.T) {
	env := newEnv(t, base.Config{})
	defer env.local.CloseAll()

	fundAndEnter(t, env.root, 3, 100)
	pending := bbase.GenerateRequestID()
	forceDrawing(env.root, pending)
	env.root.book = failingBook{Book: env.root.storage.Book}

	_, err := env.root.Fulfill(signedFulfill(t, env.beaconPriv, pending,
		[]uint64{202}))
	require.True(t, xerrors.Is(err, base.ErrPayoutFailed))

	// no partial reset: the round is stuck in Drawing for recovery
	status, err := env.root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, base.Drawing, status.Phase)
	require.Equal(t, pending, status.Pending)
	require.Equal(t, 3, status.Players)
	require.Equal(t, uint64(300), env.root.storage.Book.Balance(poolAccount))
	history, err := env.root.History(&HistoryRequest{})
	require.NoError(t, err)
	require.Len(t, history.Records, 0)
}

func TestEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full settlement round in short mode")
	}
	local := onet.NewTCPTest(cothority.Suite)
	hosts, roster, _ := local.GenTree(3, true)
	defer local.CloseAll()

	root := local.GetServices(hosts, raffleID)[0].(*Service)
	beaconRoot := local.GetServices(hosts,
		beacon.GetServiceID())[0].(*beacon.Service)

	bReply, err := beaconRoot.InitUnit(&beacon.InitUnitRequest{
		Roster: roster, MaxWords: 16})
	require.NoError(t, err)
	_, err = root.InitUnit(&InitUnitRequest{Roster: roster, Cfg: base.Config{
		FeeValue:          100,
		Interval:          0,
		ConfirmationDelay: 100 * time.Millisecond,
		Words:             1,
		MaxWords:          16,
		BeaconPublic:      bReply.Public,
	}})
	require.NoError(t, err)

	players := fundAndEnter(t, root, 3, 100)

	upkeep, err := root.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)
	require.False(t, upkeep.ID.IsZero())

	status, err := root.Status(&StatusRequest{})
	require.NoError(t, err)
	require.Equal(t, base.Drawing, status.Phase)
	require.Equal(t, upkeep.ID, status.Pending)

	// the beacon delivers asynchronously; poll until the round settles
	settled := false
	for i := 0; i < 50 && !settled; i++ {
		time.Sleep(100 * time.Millisecond)
		status, err = root.Status(&StatusRequest{})
		require.NoError(t, err)
		settled = status.Phase == base.Open && status.Round == 1
	}
	require.True(t, settled, "round did not settle in time")
	require.Equal(t, 0, status.Players)
	require.Equal(t, uint64(0), status.Balance)
	require.NotEmpty(t, status.Winner)

	history, err := root.History(&HistoryRequest{})
	require.NoError(t, err)
	require.Len(t, history.Records, 1)
	record := history.Records[0]
	require.Equal(t, uint64(300), record.Prize)
	require.Equal(t, upkeep.ID.String(), record.Request)

	// the prize landed on exactly one player account
	total := uint64(0)
	winners := 0
	for _, p := range players {
		fr, err := root.Fund(&FundRequest{Key: p.pub, Amount: 0})
		require.NoError(t, err)
		total += fr.Balance
		if fr.Balance == 1200 {
			winners++
			require.True(t, record.Winner.Equal(p.pub))
		}
	}
	require.Equal(t, uint64(3300), total)
	require.Equal(t, 1, winners)
}
