package raffle

import (
	"github.com/codesport/raffle-vrf/raffle/base"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"
)

type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

func (c *Client) InitUnit(cfg base.Config) (*InitUnitReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	req := &InitUnitRequest{
		Roster: c.roster,
		Cfg:    cfg,
	}
	reply := &InitUnitReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) Fund(public kyber.Point, amount uint64) (*FundReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	reply := &FundReply{}
	err := c.SendProtobuf(c.roster.List[0], &FundRequest{Key: public,
		Amount: amount}, reply)
	return reply, err
}

// Enter signs the (key, fee) pair with the player's private key and submits
// the ticket.
func (c *Client) Enter(private kyber.Scalar, public kyber.Point, fee uint64) (*EnterReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	digest, err := base.EnterDigest(public, fee)
	if err != nil {
		return nil, xerrors.Errorf("hashing entry: %v", err)
	}
	sig, err := schnorr.Sign(cothority.Suite, private, digest)
	if err != nil {
		return nil, xerrors.Errorf("signing entry: %v", err)
	}
	req := &EnterRequest{
		Key: public,
		Sig: sig,
		Fee: fee,
	}
	reply := &EnterReply{}
	err = c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) CheckUpkeep() (*CheckUpkeepReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	reply := &CheckUpkeepReply{}
	err := c.SendProtobuf(c.roster.List[0], &CheckUpkeepRequest{}, reply)
	return reply, err
}

func (c *Client) PerformUpkeep() (*PerformUpkeepReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	reply := &PerformUpkeepReply{}
	err := c.SendProtobuf(c.roster.List[0], &PerformUpkeepRequest{}, reply)
	return reply, err
}

func (c *Client) Status() (*StatusReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	reply := &StatusReply{}
	err := c.SendProtobuf(c.roster.List[0], &StatusRequest{}, reply)
	return reply, err
}

func (c *Client) GetPlayers() (*GetPlayersReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	reply := &GetPlayersReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetPlayersRequest{}, reply)
	return reply, err
}

func (c *Client) History() (*HistoryReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	reply := &HistoryReply{}
	err := c.SendProtobuf(c.roster.List[0], &HistoryRequest{}, reply)
	return reply, err
}
