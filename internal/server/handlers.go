package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"perpkeeper/internal/book"
	"perpkeeper/internal/indexer"
	"perpkeeper/internal/ingestion"
	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
	"perpkeeper/internal/observability"
	"perpkeeper/internal/vip"
)

// ReplicaReader is the slice of the indexer client the API serves from.
type ReplicaReader interface {
	RecentTrades(ctx context.Context, limit int) ([]indexer.TradeRow, error)
	Candles(ctx context.Context, interval string, limit int) ([]indexer.Candle, error)
	OpenOrders(ctx context.Context, trader string) ([]indexer.OpenOrderRow, error)
	TradeHistory(ctx context.Context, trader string, limit int) ([]indexer.TradeRow, error)
}

// GatewayAccountReader reads live account state from the exchange gateway.
type GatewayAccountReader interface {
	GetPosition(ctx context.Context, trader string) (*ledger.Position, error)
	GetMargin(ctx context.Context, trader string) (*big.Int, error)
}

// UpgradeSubmitter submits the contract's self-service tier upgrade check.
type UpgradeSubmitter interface {
	CheckVIPUpgrade(ctx context.Context) (*ledger.Receipt, error)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handlers serves the keeper's read API.
type Handlers struct {
	view      *book.View
	replica   ReplicaReader
	fallback  *ingestion.RecentTrades
	gateway   GatewayAccountReader
	vipLoader *vip.Loader
	upgrades  UpgradeSubmitter
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewHandlers(view *book.View, replica ReplicaReader, fallback *ingestion.RecentTrades, gateway GatewayAccountReader, vipLoader *vip.Loader, upgrades UpgradeSubmitter, metrics *observability.Metrics, log zerolog.Logger) *Handlers {
	return &Handlers{
		view:      view,
		replica:   replica,
		fallback:  fallback,
		gateway:   gateway,
		vipLoader: vipLoader,
		upgrades:  upgrades,
		metrics:   metrics,
		log:       log,
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("write response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg, code string) {
	h.writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func queryInt(r *http.Request, key string, fallback int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// GetBook serves the latest depth snapshot. ?depth=N limits rows per side.
func (h *Handlers) GetBook(w http.ResponseWriter, r *http.Request) {
	snapshot := h.view.Current().Truncate(queryInt(r, "depth", 0))
	h.writeJSON(w, http.StatusOK, snapshot)
}

// GetFunding serves the current funding estimate alongside the prices that
// produced it.
func (h *Handlers) GetFunding(w http.ResponseWriter, r *http.Request) {
	snapshot := h.view.Current()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fundingRate": snapshot.FundingRate,
		"markPrice":   snapshot.MarkPrice,
		"indexPrice":  snapshot.IndexPrice,
		"updatedAt":   snapshot.UpdatedAt,
	})
}

// GetTrades serves recent trades from the replica, falling back to the
// in-memory buffer when the replica is down.
func (h *Handlers) GetTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	trades, err := h.replica.RecentTrades(r.Context(), limit)
	if err != nil {
		if !errors.Is(err, indexer.ErrReplicaUnavailable) {
			h.writeError(w, http.StatusInternalServerError, err.Error(), "trades_failed")
			return
		}
		h.metrics.ReplicaFallbacks.Inc()
		h.log.Warn().Err(err).Msg("serving trades from memory")
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"trades": h.fallback.Snapshot(limit),
			"source": "memory",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"source": "replica",
	})
}

// GetCandles serves OHLCV buckets. ?interval defaults to 1m.
func (h *Handlers) GetCandles(w http.ResponseWriter, r *http.Request) {
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1m"
	}
	candles, err := h.replica.Candles(r.Context(), interval, queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "candles_failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"candles": candles})
}

// GetOpenOrders serves a trader's resting orders.
func (h *Handlers) GetOpenOrders(w http.ResponseWriter, r *http.Request) {
	trader := mux.Vars(r)["address"]
	orders, err := h.replica.OpenOrders(r.Context(), trader)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "orders_failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// GetTradeHistory serves a trader's fills.
func (h *Handlers) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	trader := mux.Vars(r)["address"]
	trades, err := h.replica.TradeHistory(r.Context(), trader, queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "history_failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// GetAccount serves a trader's live position and margin from the gateway.
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	trader := ledger.NormalizeAddress(mux.Vars(r)["address"])

	position, err := h.gateway.GetPosition(r.Context(), trader)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error(), "position_failed")
		return
	}
	margin, err := h.gateway.GetMargin(r.Context(), trader)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error(), "margin_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trader":     trader,
		"size":       position.Size.String(),
		"entryPrice": position.EntryPrice.String(),
		"margin":     fixed.FormatWad(margin),
		"flat":       position.IsFlat(),
	})
}

// GetVIPInfo serves a trader's fee tier. Failed loads degrade to the
// level-0 defaults, flagged by source=default.
func (h *Handlers) GetVIPInfo(w http.ResponseWriter, r *http.Request) {
	trader := mux.Vars(r)["address"]
	info, live := h.vipLoader.Load(r.Context(), trader)
	source := "live"
	if !live {
		source = "default"
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"vip":    info,
		"source": source,
	})
}

// CheckVIPUpgrade submits the contract's self-service upgrade check with
// the keeper's key. A revert means no upgrade was due, and callers get
// that verdict explicitly rather than a 500.
func (h *Handlers) CheckVIPUpgrade(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.upgrades.CheckVIPUpgrade(r.Context())
	if err != nil {
		if errors.Is(err, ledger.ErrTxReverted) {
			h.writeJSON(w, http.StatusOK, map[string]interface{}{
				"upgraded": false,
				"reason":   "no upgrade due",
			})
			return
		}
		h.writeError(w, http.StatusBadGateway, err.Error(), "upgrade_check_failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"upgraded": true,
		"txHash":   receipt.TxHash,
	})
}
