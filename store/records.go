package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tos-network/gyield/core"
)

// InsertTxRecord writes a fresh record. The (signalId, stepIndex) pair is
// the idempotency key: a second insert for the same pair fails with
// ErrDuplicate, which makes at-least-once redelivery safe.
func (db *DB) InsertTxRecord(rec *core.TxRecord) error {
	key := txRecordKey(rec.SignalID, rec.StepIndex)
	exists, err := db.has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: txrecord %s/%d", ErrDuplicate, rec.SignalID, rec.StepIndex)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.writeTxRecord(rec)
}

// UpdateTxRecord rewrites a record after a status transition and maintains
// the hash index.
func (db *DB) UpdateTxRecord(rec *core.TxRecord) error {
	key := txRecordKey(rec.SignalID, rec.StepIndex)
	exists, err := db.has(key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: txrecord %s/%d", ErrNotFound, rec.SignalID, rec.StepIndex)
	}
	return db.writeTxRecord(rec)
}

func (db *DB) writeTxRecord(rec *core.TxRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(txRecordKey(rec.SignalID, rec.StepIndex), raw)
	if rec.TxHash != "" {
		batch.Put(txHashKey(rec.TxHash), []byte(fmt.Sprintf("%s:%d", rec.SignalID, rec.StepIndex)))
	}
	return db.ldb.Write(batch, nil)
}

// TxRecord reads one record by its idempotency key.
func (db *DB) TxRecord(signalID string, step int) (*core.TxRecord, error) {
	var rec core.TxRecord
	if err := db.getJSON(txRecordKey(signalID, step), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// TxRecordsBySignal returns all step records for a signal, ordered by step.
func (db *DB) TxRecordsBySignal(signalID string) ([]*core.TxRecord, error) {
	prefix := []byte(string(txRecordPrefix) + signalID + ":")
	it := db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out []*core.TxRecord
	for it.Next() {
		var rec core.TxRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, it.Error()
}

// TxRecordByHash resolves a transaction hash through the secondary index.
func (db *DB) TxRecordByHash(hash string) (*core.TxRecord, error) {
	ref, err := db.ldb.Get(txHashKey(hash), nil)
	if err != nil {
		return nil, ErrNotFound
	}
	parts := strings.SplitN(string(ref), ":", 2)
	if len(parts) != 2 {
		return nil, ErrNotFound
	}
	step, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, ErrNotFound
	}
	return db.TxRecord(parts[0], step)
}

// HasPlan reports whether a plan was already created for the signal.
func (db *DB) HasPlan(signalID string) (bool, error) {
	return db.has(planKey(signalID))
}

// InsertPlan persists the one plan a signal is allowed. Duplicate inserts
// fail, enforcing the at-most-one-plan invariant under redelivery.
func (db *DB) InsertPlan(plan *core.Plan) error {
	key := planKey(plan.SignalID)
	exists, err := db.has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: plan %s", ErrDuplicate, plan.SignalID)
	}
	return db.putJSON(key, plan)
}

// PutSignal persists the decoded signal so interrupted plans can resume
// after restart or external signature. Last write wins; signals are
// immutable so rewrites are identical.
func (db *DB) PutSignal(sig *core.Signal) error {
	return db.putJSON(signalKey(sig.SignalID), sig)
}

// Signal reads a stored signal.
func (db *DB) Signal(signalID string) (*core.Signal, error) {
	var sig core.Signal
	if err := db.getJSON(signalKey(signalID), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// Plan reads the stored plan for a signal.
func (db *DB) Plan(signalID string) (*core.Plan, error) {
	var plan core.Plan
	if err := db.getJSON(planKey(signalID), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ConfirmedUsdSince sums amountUsd over confirmed and in-flight records
// created after cutoff. Feeds the rolling daily cap.
func (db *DB) ConfirmedUsdSince(cutoff time.Time) (float64, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(txRecordPrefix), nil)
	defer it.Release()
	var sum float64
	for it.Next() {
		var rec core.TxRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		if rec.CreatedAt.Before(cutoff) {
			continue
		}
		switch rec.Status {
		case core.StatusConfirmed, core.StatusSubmitted, core.StatusPending, core.StatusSimulating:
			sum += rec.AmountUsd
		}
	}
	return sum, it.Error()
}
