package store

import (
	"errors"

	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// The signal journal is the durable end of the at-least-once stream. The
// advisor (or the websocket ingest) appends raw messages; the dispatcher
// reads from the first un-acked sequence and acks after the plan concludes.
// A crash between read and ack redelivers, which the signalId dedupe absorbs.

// JournalEntry is one durable stream message.
type JournalEntry struct {
	Seq uint64
	Raw []byte
}

// AppendJournal appends one raw signal message and returns its sequence.
func (db *DB) AppendJournal(raw []byte) (uint64, error) {
	seq, err := db.nextSeq(journalSeqKey)
	if err != nil {
		return 0, err
	}
	if err := db.ldb.Put(seqKey(journalPrefix, seq), raw, nil); err != nil {
		return 0, err
	}
	return seq, nil
}

// AckJournal marks every sequence up to and including seq as consumed.
func (db *DB) AckJournal(seq uint64) error {
	return db.ldb.Put(journalAckKey, encodeSeq(seq+1), nil)
}

// ackedUpTo returns the first sequence not yet acked.
func (db *DB) ackedUpTo() (uint64, error) {
	raw, err := db.ldb.Get(journalAckKey, nil)
	if err != nil {
		if errors.Is(err, lerrors.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return decodeSeq(raw), nil
}

// UnackedJournal returns up to limit entries starting at the first un-acked
// sequence, oldest first. limit <= 0 means no limit.
func (db *DB) UnackedJournal(limit int) ([]JournalEntry, error) {
	start, err := db.ackedUpTo()
	if err != nil {
		return nil, err
	}
	rng := util.BytesPrefix(journalPrefix)
	rng.Start = seqKey(journalPrefix, start)
	it := db.ldb.NewIterator(rng, nil)
	defer it.Release()
	var out []JournalEntry
	for it.Next() {
		key := it.Key()
		// Counter rows ("jnl-ack", "jnl-seq") share the prefix but not
		// the fixed key length.
		if len(key) != len(journalPrefix)+8 {
			continue
		}
		seq := decodeSeq(key[len(journalPrefix):])
		raw := append([]byte{}, it.Value()...)
		out = append(out, JournalEntry{Seq: seq, Raw: raw})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}
