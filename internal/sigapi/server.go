// Package sigapi is the operator HTTP surface: resolving pending
// signatures, reading positions and audit rows, and flipping runtime
// config such as the kill switch.
package sigapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-jwt/jwt/v4"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/pending"
	"github.com/tos-network/gyield/store"
)

// EnvJWTSecret holds the HMAC secret API tokens are verified against.
const EnvJWTSecret = "SIGAPI_JWT_SECRET"

// Server serves the operator API.
type Server struct {
	db     *store.DB
	bridge *pending.Bridge
	secret []byte
	logger log.Logger
}

// New builds the server. An empty secret disables auth, which is only
// acceptable on a loopback bind.
func New(db *store.DB, bridge *pending.Bridge, secret string) *Server {
	return &Server{
		db:     db,
		bridge: bridge,
		secret: []byte(secret),
		logger: log.New("module", "sigapi"),
	}
}

// Handler assembles the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/health", s.health)
	r.GET("/pending", s.auth(s.listPending))
	r.POST("/pending/:id", s.auth(s.resolvePending))
	r.GET("/positions", s.auth(s.listPositions))
	r.GET("/audit", s.auth(s.auditTail))
	r.GET("/config", s.auth(s.getConfig))
	r.POST("/config", s.auth(s.setConfig))

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}

// auth verifies the Bearer JWT with the HMAC secret.
func (s *Server) auth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if len(s.secret) == 0 {
			next(w, r, ps)
			return
		}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			writeErr(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		})
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listPending(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	rows, err := s.db.PendingSignatures(core.SigPending)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// resolvePending applies an external signer's decision to a pending row.
func (s *Server) resolvePending(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Status string `json:"status"` // broadcasted | rejected
		TxHash string `json:"txHash,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "bad json")
		return
	}
	var status core.SigStatus
	switch body.Status {
	case string(core.SigBroadcasted):
		if body.TxHash == "" {
			writeErr(w, http.StatusBadRequest, "broadcasted needs txHash")
			return
		}
		status = core.SigBroadcasted
	case string(core.SigRejected):
		status = core.SigRejected
	default:
		writeErr(w, http.StatusBadRequest, "status must be broadcasted or rejected")
		return
	}
	if err := s.bridge.Resolve(ps.ByName("id"), status, body.TxHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "no such pending signature")
			return
		}
		writeErr(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info("Pending signature resolved externally", "id", ps.ByName("id"), "status", status)
	writeJSON(w, http.StatusOK, map[string]string{"id": ps.ByName("id"), "status": string(status)})
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := core.PositionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = core.PositionActive
	}
	positions, err := s.db.Positions(status)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) auditTail(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n, err := strconv.Atoi(r.URL.Query().Get("n"))
	if err != nil || n <= 0 || n > 1000 {
		n = 100
	}
	entries, err := s.db.AuditTail(n)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	cfg, err := s.db.AllConfig()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		writeErr(w, http.StatusBadRequest, "need key and value")
		return
	}
	if err := s.db.SetConfig(body.Key, body.Value); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Warn("Runtime config changed", "key", body.Key, "value", body.Value)
	writeJSON(w, http.StatusOK, map[string]string{body.Key: body.Value})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
