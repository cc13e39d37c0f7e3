package store

import (
	"encoding/json"
	"time"

	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tos-network/gyield/core"
)

// UpsertPosition writes a position row, stamping UpdatedAt.
func (db *DB) UpsertPosition(pos *core.Position) error {
	pos.UpdatedAt = time.Now().UTC()
	return db.putJSON(positionKey(pos.PositionID), pos)
}

// Position reads one position row.
func (db *DB) Position(id string) (*core.Position, error) {
	var pos core.Position
	if err := db.getJSON(positionKey(id), &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// Positions returns all positions, optionally filtered by status.
func (db *DB) Positions(status core.PositionStatus) ([]*core.Position, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(positionPrefix), nil)
	defer it.Release()
	var out []*core.Position
	for it.Next() {
		var pos core.Position
		if err := json.Unmarshal(it.Value(), &pos); err != nil {
			return nil, err
		}
		if status != "" && pos.Status != status {
			continue
		}
		clone := pos
		out = append(out, &clone)
	}
	return out, it.Error()
}

// PositionByPool finds the open position for a pool/wallet pair, if any.
func (db *DB) PositionByPool(poolID, wallet string) (*core.Position, error) {
	all, err := db.Positions(core.PositionActive)
	if err != nil {
		return nil, err
	}
	for _, pos := range all {
		if pos.PoolID == poolID && pos.WalletAddress == wallet {
			return pos, nil
		}
	}
	return nil, ErrNotFound
}

// InsertSnapshot appends one reconciler observation.
func (db *DB) InsertSnapshot(snap *core.PositionSnapshot) error {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	return db.putJSON(snapshotKey(snap.PositionID, snap.TakenAt.UnixNano()), snap)
}

// Snapshots returns the recorded snapshots for one position in time order.
func (db *DB) Snapshots(positionID string) ([]*core.PositionSnapshot, error) {
	prefix := append(append([]byte{}, snapshotPrefix...), positionID...)
	prefix = append(prefix, ':')
	it := db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	var out []*core.PositionSnapshot
	for it.Next() {
		var snap core.PositionSnapshot
		if err := json.Unmarshal(it.Value(), &snap); err != nil {
			return nil, err
		}
		out = append(out, &snap)
	}
	return out, it.Error()
}

// UpsertPool writes one ingested pool row.
func (db *DB) UpsertPool(pool *core.Pool) error {
	return db.putJSON(poolKey(pool.PoolID), pool)
}

// Pool reads one pool row.
func (db *DB) Pool(id string) (*core.Pool, error) {
	var pool core.Pool
	if err := db.getJSON(poolKey(id), &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}
