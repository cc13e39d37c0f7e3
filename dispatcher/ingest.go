package dispatcher

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/gorilla/websocket"

	"github.com/tos-network/gyield/store"
)

const (
	ingestPingPeriod  = 30 * time.Second
	ingestReadLimit   = 1 << 20
	reconnectBackoff  = 5 * time.Second
)

var ingestedMeter = metrics.NewRegisteredCounter("dispatcher/ingested", nil)

// Ingest bridges the advisor's websocket stream into the durable journal.
// Durability comes from the journal, not the socket: a message is appended
// before anything downstream sees it, and reconnects rely on the advisor's
// replay plus signalId dedupe.
type Ingest struct {
	url    string
	db     *store.DB
	logger log.Logger
}

// NewIngest builds an ingester for the advisor stream URL.
func NewIngest(url string, db *store.DB) *Ingest {
	return &Ingest{url: url, db: db, logger: log.New("module", "ingest")}
}

// Run keeps a connection up until ctx is cancelled, journaling every
// message it reads.
func (in *Ingest) Run(ctx context.Context) error {
	for {
		if err := in.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			in.logger.Warn("Signal stream dropped, reconnecting", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

func (in *Ingest) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, in.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(ingestReadLimit)
	in.logger.Info("Signal stream connected", "url", in.url)

	go func() {
		ticker := time.NewTicker(ingestPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		seq, err := in.db.AppendJournal(raw)
		if err != nil {
			return err
		}
		ingestedMeter.Inc(1)
		in.logger.Debug("Signal journaled", "seq", seq, "bytes", len(raw))
	}
}
