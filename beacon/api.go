package beacon

import (
	"go.dedis.ch/cothority/v3"
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

func (c *Client) InitUnit(maxWords int) (*InitUnitReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	req := &InitUnitRequest{
		Roster:   c.roster,
		MaxWords: maxWords,
	}
	reply := &InitUnitReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) PublicKey() (*PublicKeyReply, error) {
	if len(c.roster.List) == 0 {
		return nil, xerrors.New("got an empty roster list")
	}
	reply := &PublicKeyReply{}
	err := c.SendProtobuf(c.roster.List[0], &PublicKeyRequest{}, reply)
	return reply, err
}
