package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// Recognised system_config keys. Values are stored as strings the way the
// advisor writes them; typed readers live on ConfigSnapshot in the policy
// package.
const (
	KeyKillSwitch       = "kill_switch"
	KeyAutopilotEnabled = "autopilot_enabled"
	KeyAutopilotDryRun  = "autopilot_dry_run"
	KeyMaxSingleTxUsd   = "max_single_tx_usd"
	KeyMaxDailyTxUsd    = "max_daily_tx_usd"
	KeyStopLossPct      = "stop_loss_pct"
	KeyMinHealthScore   = "min_health_score"
	KeyEvmWallet        = "evm_wallet_address"
	KeyAptosWallet      = "aptos_wallet_address"
	KeySolanaWallet     = "solana_wallet_address"

	// Per-chain gas ceiling keys are KeyGasMaxGweiPrefix + chain name.
	KeyGasMaxGweiPrefix = "gas_max_gwei_"
)

// SetConfig writes one system_config key.
func (db *DB) SetConfig(key, value string) error {
	return db.ldb.Put(configKey(key), []byte(value), nil)
}

// Config reads one system_config key, or def when unset.
func (db *DB) Config(key, def string) string {
	raw, err := db.ldb.Get(configKey(key), nil)
	if err != nil {
		return def
	}
	return string(raw)
}

// ConfigBool reads a boolean key.
func (db *DB) ConfigBool(key string, def bool) bool {
	raw := db.Config(key, "")
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

// ConfigFloat reads a numeric key.
func (db *DB) ConfigFloat(key string, def float64) float64 {
	raw := db.Config(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// AllConfig returns the whole system_config map.
func (db *DB) AllConfig() (map[string]string, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(configPrefix), nil)
	defer it.Release()
	out := make(map[string]string)
	for it.Next() {
		key := strings.TrimPrefix(string(it.Key()), string(configPrefix))
		out[key] = string(it.Value())
	}
	if err := it.Error(); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return out, nil
}
