package store

import (
	"encoding/binary"
	"fmt"
)

// Key schema. Every table lives under a short ASCII prefix; row keys are
// prefix + primary key. Secondary indexes carry their own prefix.
var (
	txRecordPrefix  = []byte("tx-")  // tx-<signalId>:<stepIndex> -> TxRecord
	txHashIndex     = []byte("txh-") // txh-<hash> -> signalId:stepIndex
	positionPrefix  = []byte("pos-") // pos-<positionId> -> Position
	poolPrefix      = []byte("pool-") // pool-<poolId> -> Pool
	pendingPrefix   = []byte("psig-") // psig-<id> -> PendingSignature
	auditPrefix     = []byte("audit-") // audit-<seq> -> AuditEntry
	configPrefix    = []byte("cfg-") // cfg-<key> -> string value
	journalPrefix   = []byte("jnl-") // jnl-<seq> -> raw signal message
	journalAckKey   = []byte("jnl-ack")   // last acked sequence
	journalSeqKey   = []byte("jnl-seq")   // next sequence to assign
	auditSeqKey     = []byte("audit-seq") // next audit sequence
	snapshotPrefix  = []byte("snap-") // snap-<positionId>:<unixnano> -> PositionSnapshot
	planPrefix      = []byte("plan-") // plan-<signalId> -> Plan
	signalPrefix    = []byte("sig-") // sig-<signalId> -> Signal
)

func txRecordKey(signalID string, step int) []byte {
	return []byte(fmt.Sprintf("%s%s:%05d", txRecordPrefix, signalID, step))
}

func txHashKey(hash string) []byte {
	return append(append([]byte{}, txHashIndex...), hash...)
}

func positionKey(id string) []byte {
	return append(append([]byte{}, positionPrefix...), id...)
}

func poolKey(id string) []byte {
	return append(append([]byte{}, poolPrefix...), id...)
}

func pendingKey(id string) []byte {
	return append(append([]byte{}, pendingPrefix...), id...)
}

func configKey(key string) []byte {
	return append(append([]byte{}, configPrefix...), key...)
}

func planKey(signalID string) []byte {
	return append(append([]byte{}, planPrefix...), signalID...)
}

func signalKey(signalID string) []byte {
	return append(append([]byte{}, signalPrefix...), signalID...)
}

func seqKey(prefix []byte, seq uint64) []byte {
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	binary.BigEndian.PutUint64(out[len(prefix):], seq)
	return out
}

func snapshotKey(positionID string, unixNano int64) []byte {
	out := append(append([]byte{}, snapshotPrefix...), positionID...)
	out = append(out, ':')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(unixNano))
	return append(out, buf[:]...)
}

func encodeSeq(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func decodeSeq(raw []byte) uint64 {
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}
