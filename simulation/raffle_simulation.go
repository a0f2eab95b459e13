package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/codesport/raffle-vrf/beacon"
	"github.com/codesport/raffle-vrf/raffle"
	"github.com/codesport/raffle-vrf/raffle/base"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/simul/monitor"
	"golang.org/x/xerrors"
)

type SimulationService struct {
	onet.SimulationBFTree
	NumParticipants int
	FeeValue        uint64
	Funding         uint64
	DelayMS         int
	Words           int
	MaxWords        int
	SettleTimeout   int

	raffleCl *raffle.Client
	beaconCl *beacon.Client
}

func init() {
	onet.SimulationRegister("RaffleVRF", NewRaffleSimulation)
}

func NewRaffleSimulation(config string) (onet.Simulation, error) {
	ss := &SimulationService{}
	_, err := toml.Decode(config, ss)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *SimulationService) Setup(dir string,
	hosts []string) (*onet.SimulationConfig, error) {
	sc := &onet.SimulationConfig{}
	s.CreateRoster(sc, hosts, 2000)
	err := s.CreateTree(sc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SimulationService) Node(config *onet.SimulationConfig) error {
	index, _ := config.Roster.Search(config.Server.ServerIdentity.ID)
	if index < 0 {
		log.Fatal("Didn't find this node in roster")
	}
	log.Lvl3("Initializing node-index", index)
	return s.SimulationBFTree.Node(config)
}

func (s *SimulationService) initUnits(roster *onet.Roster) error {
	if s.Funding < s.FeeValue {
		s.Funding = s.FeeValue
	}
	s.beaconCl = beacon.NewClient(roster)
	bReply, err := s.beaconCl.InitUnit(s.MaxWords)
	if err != nil {
		log.Errorf("initializing beacon unit: %v", err)
		return err
	}
	s.raffleCl = raffle.NewClient(roster)
	_, err = s.raffleCl.InitUnit(base.Config{
		FeeValue:          s.FeeValue,
		Interval:          0,
		ConfirmationDelay: time.Duration(s.DelayMS) * time.Millisecond,
		Words:             s.Words,
		MaxWords:          s.MaxWords,
		BeaconPublic:      bReply.Public,
	})
	if err != nil {
		log.Errorf("initializing raffle unit: %v", err)
	}
	return err
}

func (s *SimulationService) executeJoin(roster *onet.Roster, idx int) error {
	cl := raffle.NewClient(roster)
	defer cl.Close()

	label := fmt.Sprintf("p%d_join", idx)
	joinMonitor := monitor.NewTimeMeasure(label)
	kp := key.NewKeyPair(cothority.Suite)
	_, err := cl.Fund(kp.Public, s.Funding)
	if err != nil {
		log.Errorf("funding participant %d: %v", idx, err)
		return err
	}
	_, err = cl.Enter(kp.Private, kp.Public, s.FeeValue)
	if err != nil {
		log.Errorf("entering participant %d: %v", idx, err)
		return err
	}
	joinMonitor.Record()
	return nil
}

func (s *SimulationService) executeSettle(round uint64) error {
	settleMonitor := monitor.NewTimeMeasure("settle")
	upkeepReply, err := s.raffleCl.PerformUpkeep()
	if err != nil {
		log.Errorf("performing upkeep: %v", err)
		return err
	}
	log.Lvl2("Draw requested:", upkeepReply.ID)

	deadline := time.Now().Add(time.Duration(s.SettleTimeout) * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.raffleCl.Status()
		if err != nil {
			log.Errorf("getting status: %v", err)
			return err
		}
		if st.Phase == base.Open && st.Round == round+1 {
			settleMonitor.Record()
			log.Lvl1("Round", round, "settled, winner:", st.Winner)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return xerrors.Errorf("round %d did not settle within %ds", round,
		s.SettleTimeout)
}

func (s *SimulationService) runRaffle(roster *onet.Roster) error {
	err := s.initUnits(roster)
	if err != nil {
		return err
	}
	for round := 0; round < s.Rounds; round++ {
		var wg sync.WaitGroup
		errs := make([]error, s.NumParticipants)
		wg.Add(s.NumParticipants)
		for i := 0; i < s.NumParticipants; i++ {
			go func(idx int) {
				defer wg.Done()
				errs[idx] = s.executeJoin(roster, idx)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		err = s.executeSettle(uint64(round))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulationService) Run(config *onet.SimulationConfig) error {
	return s.runRaffle(config.Roster)
}
