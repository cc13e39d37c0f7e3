package store

import (
	"encoding/json"
	"time"

	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tos-network/gyield/core"
)

// InsertPendingSignature persists a payload awaiting an external signer.
func (db *DB) InsertPendingSignature(sig *core.PendingSignature) error {
	now := time.Now().UTC()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now
	return db.putJSON(pendingKey(sig.ID), sig)
}

// UpdatePendingSignature rewrites a pending row after a status transition.
func (db *DB) UpdatePendingSignature(sig *core.PendingSignature) error {
	exists, err := db.has(pendingKey(sig.ID))
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	sig.UpdatedAt = time.Now().UTC()
	return db.putJSON(pendingKey(sig.ID), sig)
}

// PendingSignature reads one row by id.
func (db *DB) PendingSignature(id string) (*core.PendingSignature, error) {
	var sig core.PendingSignature
	if err := db.getJSON(pendingKey(id), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// PendingSignatures returns rows filtered by status ("" for all).
func (db *DB) PendingSignatures(status core.SigStatus) ([]*core.PendingSignature, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(pendingPrefix), nil)
	defer it.Release()
	var out []*core.PendingSignature
	for it.Next() {
		var sig core.PendingSignature
		if err := json.Unmarshal(it.Value(), &sig); err != nil {
			return nil, err
		}
		if status != "" && sig.Status != status {
			continue
		}
		clone := sig
		out = append(out, &clone)
	}
	return out, it.Error()
}
