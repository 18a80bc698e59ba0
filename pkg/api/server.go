package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/stocksim/pkg/exchange"
	"github.com/uhyunpark/stocksim/pkg/ledger"
	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/metrics"
	"github.com/uhyunpark/stocksim/pkg/orderbook"
	"github.com/uhyunpark/stocksim/pkg/quote"
)

const defaultListLimit = 50

// Server handles REST API and WebSocket connections
type Server struct {
	log      *zap.Logger
	exchange *exchange.Exchange
	store    *ledger.Store
	quotes   *quote.Publisher
	metrics  *metrics.Metrics
	router   *mux.Router
	hub      *Hub
	origins  []string
}

func NewServer(log *zap.Logger, x *exchange.Exchange, store *ledger.Store, quotes *quote.Publisher, m *metrics.Metrics, hub *Hub, origins []string) *Server {
	s := &Server{
		log:      log.Named("api"),
		exchange: x,
		store:    store,
		quotes:   quotes,
		metrics:  m,
		router:   mux.NewRouter(),
		hub:      hub,
		origins:  origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/market-data", s.handleGetMarketData).Methods("GET")
	api.HandleFunc("/markets/{ticker}/halt", s.handleSetStatus(market.Halted)).Methods("POST")
	api.HandleFunc("/markets/{ticker}/resume", s.handleSetStatus(market.Active)).Methods("POST")

	// User endpoints
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}/orders", s.handleGetUserOrders).Methods("GET")
	api.HandleFunc("/users/{id}/transactions", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/users/{id}/rewards", s.handleReward).Methods("POST")

	// Orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods("DELETE")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api_server_starting", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.log.Info("api_server_stopped")
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.quotes.Markets())
}

func (s *Server) handleGetMarketData(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		respondError(w, http.StatusBadRequest, "missing ticker", "")
		return
	}
	md, err := s.quotes.GetMarketData(ticker)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, md)
}

func (s *Server) handleSetStatus(status market.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker := mux.Vars(r)["ticker"]
		if err := s.exchange.SetStatus(ticker, status); err != nil {
			s.respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"ticker": ticker, "status": status.String()})
	}
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	u, created, err := s.store.CreateUser(r.Context(), req.Username)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	holdings, err := s.store.Holdings(u.ID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, WalletInfo{User: u, Holdings: nonNil(holdings), Created: created})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := s.store.GetUser(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	holdings, err := s.store.Holdings(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, WalletInfo{User: u, Holdings: nonNil(holdings)})
}

func (s *Server) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetUser(id); err != nil {
		s.respondErr(w, err)
		return
	}
	pendingOnly := r.URL.Query().Get("status") != "all"
	orders, err := s.store.OrdersByUser(id, pendingOnly, queryLimit(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetUser(id); err != nil {
		s.respondErr(w, err)
		return
	}
	txs, err := s.store.Transactions(id, queryLimit(r))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(txs))
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Description == "" {
		req.Description = "reward"
	}
	u, err := s.store.Reward(r.Context(), id, req.Amount, req.Description)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	kind, err := orderbook.ParseKind(req.Kind)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid kind", err.Error())
		return
	}

	res, err := s.exchange.Submit(r.Context(), exchange.SubmitRequest{
		UserID:   req.UserID,
		Ticker:   req.Ticker,
		Side:     side,
		Kind:     kind,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, SubmitOrderResponse{Status: "accepted", Order: res.Order, Trades: res.Trades})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.exchange.Cancel(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "wsClients": s.hub.Clients()})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, matching.ErrInvalidOrder),
		errors.Is(err, matching.ErrUnsupportedKind),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidUsername),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrUnknownTicker),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNotPending),
		errors.Is(err, matching.ErrHalted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request_failed", zap.Error(err))
		respondError(w, status, "internal error", "")
		return
	}
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", err.Error())
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultListLimit
}

func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route template and status
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/ws" {
			// hijacked connections cannot be wrapped
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.APIRequest(route, rec.status)
	})
}
