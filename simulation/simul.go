package main

import (
	// Services need to be imported here to be instantiated.
	_ "github.com/codesport/raffle-vrf/beacon"
	_ "github.com/codesport/raffle-vrf/raffle"
	"go.dedis.ch/onet/v3/simul"
)

func main() {
	simul.Start()
}
