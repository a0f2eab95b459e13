package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/codesport/raffle-vrf/beacon"
	"github.com/codesport/raffle-vrf/raffle"
	"github.com/codesport/raffle-vrf/raffle/base"
	"github.com/codesport/raffle-vrf/utils"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	cli "gopkg.in/urfave/cli.v1"
)

// deployConfig is the one-shot configuration file handed to setup. The
// values become immutable once the units are initialized.
type deployConfig struct {
	FeeValue             uint64
	IntervalSec          int
	ConfirmationDelaySec int
	Words                int
	MaxWords             int
}

func main() {
	app := cli.NewApp()
	app.Name = "raffle"
	app.Usage = "join and operate a periodic trustless raffle"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "roster, r",
			Usage: "conode group definition file",
		},
		cli.StringFlag{
			Name:  "journal, j",
			Value: "raffle-journal.db",
			Usage: "local observation journal",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "setup",
			Usage:     "initialize the beacon and raffle units",
			ArgsUsage: "<deploy.toml>",
			Action:    setup,
		},
		{
			Name:      "keygen",
			Usage:     "generate a player keypair",
			ArgsUsage: "<keyfile>",
			Action:    keygen,
		},
		{
			Name:   "fund",
			Usage:  "credit a player account",
			Action: fund,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "key, k", Usage: "player keyfile"},
				cli.Uint64Flag{Name: "amount, a", Usage: "amount to credit"},
			},
		},
		{
			Name:   "join",
			Usage:  "pay the fee and enter the current round",
			Action: join,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "key, k", Usage: "player keyfile"},
				cli.Uint64Flag{Name: "fee, f",
					Usage: "payment; defaults to the configured fee"},
			},
		},
		{
			Name:   "check",
			Usage:  "show whether a draw could start now",
			Action: check,
		},
		{
			Name:   "upkeep",
			Usage:  "trigger a draw if the conditions hold",
			Action: upkeep,
		},
		{
			Name:   "status",
			Usage:  "show the current raffle state",
			Action: status,
		},
		{
			Name:   "history",
			Usage:  "list settled rounds and record them in the journal",
			Action: history,
		},
	}
	err := app.Run(os.Args)
	log.ErrFatal(err)
}

func raffleClient(c *cli.Context) (*raffle.Client, error) {
	path := c.GlobalString("roster")
	if path == "" {
		return nil, xerrors.New("please give a roster file with --roster")
	}
	roster, err := utils.ReadRoster(path)
	if err != nil {
		return nil, err
	}
	return raffle.NewClient(roster), nil
}

func setup(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give the deploy configuration file")
	}
	var cfg deployConfig
	if _, err := toml.DecodeFile(c.Args().First(), &cfg); err != nil {
		return xerrors.Errorf("reading deploy config: %v", err)
	}
	roster, err := utils.ReadRoster(c.GlobalString("roster"))
	if err != nil {
		return err
	}
	bReply, err := beacon.NewClient(roster).InitUnit(cfg.MaxWords)
	if err != nil {
		return xerrors.Errorf("initializing beacon unit: %v", err)
	}
	_, err = raffle.NewClient(roster).InitUnit(base.Config{
		FeeValue:          cfg.FeeValue,
		Interval:          time.Duration(cfg.IntervalSec) * time.Second,
		ConfirmationDelay: time.Duration(cfg.ConfirmationDelaySec) * time.Second,
		Words:             cfg.Words,
		MaxWords:          cfg.MaxWords,
		BeaconPublic:      bReply.Public,
	})
	if err != nil {
		return xerrors.Errorf("initializing raffle unit: %v", err)
	}
	fmt.Println("Raffle initialized:")
	fmt.Println("  fee:     ", cfg.FeeValue)
	fmt.Println("  interval:", time.Duration(cfg.IntervalSec)*time.Second)
	return nil
}

func keygen(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give the key file to write")
	}
	kp, err := utils.WriteKeyPair(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Println("Wrote keypair, public key:", kp.Public.String())
	return nil
}

func fund(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	_, public, err := utils.ReadKeyPair(c.String("key"))
	if err != nil {
		return err
	}
	reply, err := cl.Fund(public, c.Uint64("amount"))
	if err != nil {
		return err
	}
	fmt.Println("Account balance:", reply.Balance)
	return nil
}

func join(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	private, public, err := utils.ReadKeyPair(c.String("key"))
	if err != nil {
		return err
	}
	fee := c.Uint64("fee")
	if fee == 0 {
		st, err := cl.Status()
		if err != nil {
			return err
		}
		fee = st.FeeValue
	}
	reply, err := cl.Enter(private, public, fee)
	if err != nil {
		return err
	}
	fmt.Printf("Entered as ticket %d of %d\n", reply.Index, reply.Players)
	return appendJournal(c, &Record{
		Kind:   "entered",
		Detail: fmt.Sprintf("ticket %d fee %d", reply.Index, fee),
		Time:   time.Now().UnixNano(),
	})
}

func check(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	reply, err := cl.CheckUpkeep()
	if err != nil {
		return err
	}
	fmt.Println("Upkeep needed:", reply.Status.Ready())
	fmt.Println("  ", reply.Status)
	fmt.Printf("  balance=%d players=%d phase=%s\n", reply.Balance,
		reply.Players, reply.Phase)
	return nil
}

func upkeep(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	reply, err := cl.PerformUpkeep()
	if err != nil {
		return err
	}
	fmt.Println("Draw requested, id:", reply.ID)
	return appendJournal(c, &Record{
		Kind:   "draw",
		Detail: reply.ID.String(),
		Time:   time.Now().UnixNano(),
	})
}

func status(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	st, err := cl.Status()
	if err != nil {
		return err
	}
	fmt.Println("Phase:        ", st.Phase)
	fmt.Println("Round:        ", st.Round)
	fmt.Println("Players:      ", st.Players)
	fmt.Println("Pool balance: ", st.Balance)
	fmt.Println("Entry fee:    ", st.FeeValue)
	fmt.Println("Interval:     ", st.Interval)
	fmt.Println("Last draw:    ", time.Unix(0, st.LastDraw))
	if !st.Pending.IsZero() {
		fmt.Println("Outstanding:  ", st.Pending)
	}
	if st.Winner != "" {
		fmt.Println("Recent winner:", st.Winner)
	}
	return nil
}

func history(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	reply, err := cl.History()
	if err != nil {
		return err
	}
	for _, rec := range reply.Records {
		fmt.Printf("round %d: ticket %d of %d won %d at %s (request %s)\n",
			rec.Round, rec.Index, rec.Players, rec.Prize,
			time.Unix(0, rec.Time), rec.Request)
		err = appendJournal(c, &Record{
			Kind:   "winner",
			Detail: fmt.Sprintf("round %d prize %d", rec.Round, rec.Prize),
			Time:   rec.Time,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func appendJournal(c *cli.Context, rec *Record) error {
	j, err := OpenJournal(c.GlobalString("journal"))
	if err != nil {
		return err
	}
	defer j.Close()
	return j.Append(rec)
}
