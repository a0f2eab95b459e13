package utils

import (
	"bufio"
	"os"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ReadRoster parses a conode group definition file.
func ReadRoster(path string) (*onet.Roster, error) {
	file, err := os.Open(path)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	defer file.Close()

	group, err := app.ReadGroupDescToml(file)
	if err != nil {
		log.Errorf("ReadRoster error: %v", err)
		return nil, err
	}
	if len(group.Roster.List) == 0 {
		return nil, xerrors.New("empty roster")
	}
	return group.Roster, nil
}

// WriteKeyPair stores a fresh ed25519 keypair as two hex lines: private
// first, public second.
func WriteKeyPair(path string) (*key.Pair, error) {
	kp := key.NewKeyPair(cothority.Suite)
	privHex, err := encoding.ScalarToStringHex(cothority.Suite, kp.Private)
	if err != nil {
		return nil, err
	}
	pubHex, err := encoding.PointToStringHex(cothority.Suite, kp.Public)
	if err != nil {
		return nil, err
	}
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	if _, err := fh.WriteString(privHex + "\n" + pubHex + "\n"); err != nil {
		return nil, err
	}
	return kp, nil
}

// ReadKeyPair loads a keypair written by WriteKeyPair.
func ReadKeyPair(path string) (kyber.Scalar, kyber.Point, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer fh.Close()

	fs := bufio.NewScanner(fh)
	if !fs.Scan() {
		return nil, nil, xerrors.Errorf("%s: missing private key line", path)
	}
	private, err := encoding.StringHexToScalar(cothority.Suite, fs.Text())
	if err != nil {
		return nil, nil, xerrors.Errorf("decoding private key: %v", err)
	}
	if !fs.Scan() {
		return nil, nil, xerrors.Errorf("%s: missing public key line", path)
	}
	public, err := encoding.StringHexToPoint(cothority.Suite, fs.Text())
	if err != nil {
		return nil, nil, xerrors.Errorf("decoding public key: %v", err)
	}
	return private, public, nil
}
