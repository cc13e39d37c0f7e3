package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tos-network/gyield/core"
)

// AppendAudit writes one audit_log row under a monotonic sequence key.
func (db *DB) AppendAudit(entry *core.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	seq, err := db.nextSeq(auditSeqKey)
	if err != nil {
		return err
	}
	return db.putJSON(seqKey(auditPrefix, seq), entry)
}

// AuditTail returns the most recent n audit rows, oldest first.
func (db *DB) AuditTail(n int) ([]*core.AuditEntry, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(auditPrefix), nil)
	defer it.Release()
	var out []*core.AuditEntry
	for it.Next() {
		// Skip the sequence counter row itself.
		if len(it.Key()) != len(auditPrefix)+8 {
			continue
		}
		var entry core.AuditEntry
		if err := json.Unmarshal(it.Value(), &entry); err != nil {
			continue
		}
		clone := entry
		out = append(out, &clone)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
