package ledger

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/store"
)

const (
	priceCacheBytes = 1 << 20
	priceTTL        = 5 * time.Minute
	priceKeyPrefix  = "price_usd_"
)

// PriceCache fronts the store's price rows with an in-memory cache. The
// advisor (or an operator) keeps the price_usd_<SYMBOL> config rows fresh;
// the cache absorbs the per-step read load.
type PriceCache struct {
	db    *store.DB
	cache *fastcache.Cache
	now   func() time.Time
}

// NewPriceCache builds the cache over the config rows.
func NewPriceCache(db *store.DB) *PriceCache {
	return &PriceCache{
		db:    db,
		cache: fastcache.New(priceCacheBytes),
		now:   time.Now,
	}
}

// NativeUsd returns the chain's native token price, or 0 when unknown.
func (p *PriceCache) NativeUsd(chain core.Chain) float64 {
	info, ok := chain.Info()
	if !ok {
		return 0
	}
	return p.SymbolUsd(info.NativeSymbol)
}

// SymbolUsd returns a token price by symbol, or 0 when unknown.
func (p *PriceCache) SymbolUsd(symbol string) float64 {
	key := []byte(symbol)
	if raw := p.cache.Get(nil, key); len(raw) == 16 {
		at := time.Unix(0, int64(binary.BigEndian.Uint64(raw[8:])))
		if p.now().Sub(at) < priceTTL {
			return math.Float64frombits(binary.BigEndian.Uint64(raw[:8]))
		}
	}
	price := p.db.ConfigFloat(priceKeyPrefix+symbol, 0)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], math.Float64bits(price))
	binary.BigEndian.PutUint64(buf[8:], uint64(p.now().UnixNano()))
	p.cache.Set(key, buf[:])
	return price
}
