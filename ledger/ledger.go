package ledger

import (
	"math"
	"sync"

	"golang.org/x/xerrors"
)

// The raffle unit never tracks balances itself; it goes through a Book, the
// way contracts go through the coin instances of their chain. Deposits and
// transfers are atomic with respect to each other.
type Book interface {
	Deposit(id string, amount uint64) error
	Transfer(from string, to string, amount uint64) error
	Balance(id string) uint64
}

var ErrInsufficientFunds = xerrors.New("insufficient funds")
var ErrOverflow = xerrors.New("balance overflow")

type Account struct {
	ID    string
	Value uint64
}

// Ledger is an in-process Book. Accounts is a slice rather than a map so the
// whole ledger can be encoded into the service storage.
type Ledger struct {
	Accounts []Account
	sync.Mutex
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Deposit(id string, amount uint64) error {
	l.Lock()
	defer l.Unlock()
	idx := l.find(id)
	if idx < 0 {
		l.Accounts = append(l.Accounts, Account{ID: id, Value: amount})
		return nil
	}
	if l.Accounts[idx].Value > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.Accounts[idx].Value += amount
	return nil
}

func (l *Ledger) Transfer(from string, to string, amount uint64) error {
	l.Lock()
	defer l.Unlock()
	fi := l.find(from)
	if fi < 0 || l.Accounts[fi].Value < amount {
		return xerrors.Errorf("transferring %d from %s: %w", amount, from,
			ErrInsufficientFunds)
	}
	ti := l.find(to)
	if ti < 0 {
		l.Accounts = append(l.Accounts, Account{ID: to})
		ti = len(l.Accounts) - 1
	}
	if l.Accounts[ti].Value > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.Accounts[fi].Value -= amount
	l.Accounts[ti].Value += amount
	return nil
}

func (l *Ledger) Balance(id string) uint64 {
	l.Lock()
	defer l.Unlock()
	idx := l.find(id)
	if idx < 0 {
		return 0
	}
	return l.Accounts[idx].Value
}

func (l *Ledger) find(id string) int {
	for i, acc := range l.Accounts {
		if acc.ID == id {
			return i
		}
	}
	return -1
}
