package main

import (
	"encoding/binary"

	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var journalBucket = []byte("events")

// Record is one locally observed event: an entry this client submitted, a
// draw it triggered, or a winner it saw.
type Record struct {
	Kind   string
	Detail string
	Time   int64
}

// Journal is an append-only log of observations, kept next to the client's
// keys. It exists so a participant can audit what it saw the raffle do,
// independently of the conodes.
type Journal struct {
	db *bbolt.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, xerrors.Errorf("opening journal: %v", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("creating journal bucket: %v", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Append(rec *Record) error {
	buf, err := protobuf.Encode(rec)
	if err != nil {
		return xerrors.Errorf("encoding record: %v", err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(journalBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		k := make([]byte, 8)
		binary.BigEndian.PutUint64(k, seq)
		return b.Put(k, buf)
	})
}

func (j *Journal) List() ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(journalBucket).ForEach(func(k, v []byte) error {
			rec := Record{}
			if err := protobuf.Decode(v, &rec); err != nil {
				return xerrors.Errorf("decoding record: %v", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
