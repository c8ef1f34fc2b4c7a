package api

import (
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/shrub-finance/shrub-go/pkg/book"
	"github.com/shrub-finance/shrub-go/pkg/chain"
	"github.com/shrub-finance/shrub-go/pkg/crypto"
	"github.com/shrub-finance/shrub-go/pkg/order"
)

// Server exposes the devnet chain over REST and WebSocket: order books,
// balances, positions, announcement and settlement submission. The
// hosted app talks to a GraphQL indexer instead; the shapes here mirror
// what it consumes.
type Server struct {
	chain  *chain.Chain
	walker *book.Walker
	router *mux.Router
	hub    *Hub

	pollInterval time.Duration
	stop         chan struct{}
}

// NewServer creates an API server over a chain. signer verifies maker
// signatures during server-side depth walks. Every contract with
// announced orders is pushed to websocket subscribers on a poll
// cadence.
func NewServer(c *chain.Chain, signer *crypto.OrderSigner, pollInterval time.Duration) *Server {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	s := &Server{
		chain:        c,
		walker:       book.NewWalker(c, c, c, signer, nil),
		router:       mux.NewRouter(),
		hub:          NewHub(),
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/options/{positionHash}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/orders", s.handleAnnounceOrder).Methods("POST")
	api.HandleFunc("/orders/market", s.handleMarketQuote).Methods("POST")
	api.HandleFunc("/orders/match", s.handleMatchOrders).Methods("POST")
	api.HandleFunc("/txs/{hash}", s.handleGetReceipt).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub, the order book broadcaster, and the HTTP server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.broadcastBooks()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// Stop shuts down the book broadcaster goroutine.
func (s *Server) Stop() {
	close(s.stop)
}

// broadcastBooks rebuilds every announced contract's book on a poll
// cadence and pushes them to subscribers. Snapshots are rebuilt
// wholesale, never patched.
func (s *Server) broadcastBooks() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.broadcastTick()
		case <-s.stop:
			return
		}
	}
}

// broadcastTick pushes one snapshot per contract. The contract list is
// re-read every tick so books announced after startup broadcast too.
func (s *Server) broadcastTick() {
	for _, positionHash := range s.chain.PositionHashes() {
		snap := s.snapshot(positionHash)
		s.hub.BroadcastToChannel("orderbook:"+positionHash.Hex(), OrderbookUpdate{
			Type:         "orderbook",
			PositionHash: positionHash.Hex(),
			Buys:         levelInfos(snap.Buys),
			Sells:        levelInfos(snap.Sells),
			Timestamp:    time.Now().Unix(),
			Height:       s.chain.Height(),
		})
	}
}

func (s *Server) snapshot(positionHash common.Hash) *book.Snapshot {
	now := time.Now()
	return book.BuildSnapshot(positionHash, s.chain.RestingOrders(positionHash, now), now)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	positionHash := common.HexToHash(mux.Vars(r)["positionHash"])
	snap := s.snapshot(positionHash)
	respondJSON(w, OrderbookResponse{
		PositionHash: positionHash.Hex(),
		Buys:         levelInfos(snap.Buys),
		Sells:        levelInfos(snap.Sells),
		Timestamp:    time.Now().Unix(),
		Height:       s.chain.Height(),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr := common.HexToAddress(vars["address"])
	asset := common.HexToAddress(vars["asset"])

	available, err := s.chain.AvailableBalance(r.Context(), addr, asset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "balance lookup failed", err.Error())
		return
	}
	locked, err := s.chain.LockedBalance(r.Context(), addr, asset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "balance lookup failed", err.Error())
		return
	}
	respondJSON(w, BalanceResponse{
		Address:   addr.Hex(),
		Asset:     asset.Hex(),
		Available: available.String(),
		Locked:    locked.String(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	addr := common.HexToAddress(mux.Vars(r)["address"])
	positions := s.chain.Positions(addr)
	response := make([]PositionInfo, 0, len(positions))
	for hash, balance := range positions {
		response = append(response, PositionInfo{
			PositionHash: hash.Hex(),
			Balance:      balance.String(),
		})
	}
	respondJSON(w, response)
}

func (s *Server) handleAnnounceOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Order == nil {
		respondError(w, http.StatusBadRequest, "invalid request", "expected a signed order")
		return
	}
	handle, err := s.chain.AnnounceOrder(r.Context(), req.Order)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "announce failed", err.Error())
		return
	}
	s.respondTxOutcome(w, r, handle)
}

// handleMarketQuote walks the book server-side for a market order and
// returns the counterparty set with the accumulated total. The caller
// signs a taker order for that total and submits it to /orders/match.
func (s *Server) handleMarketQuote(w http.ResponseWriter, r *http.Request) {
	var req MarketQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", "expected positionHash, side, and size")
		return
	}
	var side order.Side
	switch req.Side {
	case "buy":
		side = order.Buy
	case "sell":
		side = order.Sell
	default:
		respondError(w, http.StatusBadRequest, "invalid request", "side must be \"buy\" or \"sell\"")
		return
	}
	size, ok := new(big.Int).SetString(req.Size, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid request", "size must be a decimal integer")
		return
	}

	snap := s.snapshot(common.HexToHash(req.PositionHash))
	result, err := s.walker.Walk(r.Context(), snap, side, size)
	if err != nil {
		var verr *order.ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		case errors.Is(err, book.ErrInsufficientDepth), errors.Is(err, book.ErrInsufficientMarketDepth):
			respondError(w, http.StatusConflict, "insufficient depth", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "walk failed", err.Error())
		}
		return
	}
	respondJSON(w, MarketQuoteResponse{
		Orders:     result.Orders,
		TotalPrice: result.TotalPrice.String(),
		FilledSize: result.FilledSize.String(),
		Skipped:    len(result.Skipped),
	})
}

func (s *Server) handleMatchOrders(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", "expected signed buy and sell order sets")
		return
	}
	handle, err := s.chain.MatchOrders(r.Context(), req.BuyOrders, req.SellOrders)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "match failed", err.Error())
		return
	}
	s.respondTxOutcome(w, r, handle)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	receipt, ok := s.chain.Receipt(hash)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown transaction", hash.Hex())
		return
	}
	respondJSON(w, receiptResponse(receipt, ""))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status": "ok",
		"height": s.chain.Height(),
	})
}

// respondTxOutcome waits out the devnet's instant mining and reports
// the receipt. Reverted transactions still return 200 with status
// "reverted" and the hash, so clients can look them up.
func (s *Server) respondTxOutcome(w http.ResponseWriter, r *http.Request, handle *chain.TxHandle) {
	receipt, err := handle.Await(r.Context())
	if err != nil {
		var reverted *chain.SettlementRevertedError
		if errors.As(err, &reverted) {
			respondJSON(w, receiptResponse(receipt, reverted.Reason))
			return
		}
		respondError(w, http.StatusInternalServerError, "transaction failed", err.Error())
		return
	}
	respondJSON(w, receiptResponse(receipt, ""))
}

func receiptResponse(receipt *chain.Receipt, message string) TxResponse {
	status := "confirmed"
	if receipt.Status != chain.ReceiptStatusSuccess {
		status = "reverted"
	}
	return TxResponse{
		TxHash:      receipt.TxHash.Hex(),
		Status:      status,
		BlockNumber: receipt.BlockNumber,
		Message:     message,
	}
}

func levelInfos(levels []book.Level) []LevelInfo {
	out := make([]LevelInfo, len(levels))
	for i, lvl := range levels {
		out[i] = LevelInfo{
			UnitPrice:   lvl.UnitPrice.String(),
			Size:        lvl.Size.String(),
			User:        lvl.User.Hex(),
			BlockHeight: lvl.BlockHeight,
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, code int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
