// Package api exposes the settler over HTTP: order intake and queries for
// users, fill submission for solvers, and proof endpoints for relayers.
package api

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openintents/settler/internal/auth"
	"github.com/openintents/settler/internal/filler"
	"github.com/openintents/settler/internal/journal"
	"github.com/openintents/settler/internal/oracle"
	"github.com/openintents/settler/internal/order"
	"github.com/openintents/settler/internal/settlement"
)

// Handler wires the settler's HTTP routes onto a Gin engine.
type Handler struct {
	engine  *settlement.Engine
	filler  *filler.Filler
	adapter oracle.Adapter
	journal *journal.Journal
	log     *zap.Logger
}

func NewHandler(
	engine *settlement.Engine,
	fil *filler.Filler,
	adapter oracle.Adapter,
	j *journal.Journal,
	log *zap.Logger,
) *Handler {
	return &Handler{engine: engine, filler: fil, adapter: adapter, journal: j, log: log}
}

// Register mounts all routes. The group must carry auth.Middleware: the
// mutating handlers act strictly as the wallet it authenticated, never as an
// identity named in the request body.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/orders", h.handleOpen)
	rg.GET("/orders/:id", h.handleGetOrder)
	rg.POST("/orders/:id/purchase", h.handlePurchase)
	rg.POST("/orders/:id/finalise", h.handleFinalise)
	rg.POST("/fills", h.handleFill)
	rg.POST("/oracle/submit", h.handleOracleSubmit)
	rg.POST("/oracle/receive", h.handleOracleReceive)
}

// Healthz is mounted outside the authenticated group.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ── open ──────────────────────────────────────────────────────────────

type openRequest struct {
	Order     *order.Order `json:"order" binding:"required"`
	Signature string       `json:"signature" binding:"required"`
}

func (h *Handler) handleOpen(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature hex"})
		return
	}

	orderID, err := h.engine.Open(c.Request.Context(), req.Order, sig)
	if err != nil {
		h.log.Warn("open rejected", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": orderID.Hex()})
}

// ── queries ───────────────────────────────────────────────────────────

func (h *Handler) handleGetOrder(c *gin.Context) {
	orderID := common.HexToHash(c.Param("id"))

	o, ok := h.engine.Order(orderID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	resp := gin.H{
		"order_id": orderID.Hex(),
		"status":   h.engine.Status(orderID).String(),
		"order":    o,
	}
	if h.journal != nil {
		if fills, err := h.journal.FillsByOrder(orderID.Hex()); err == nil && len(fills) > 0 {
			resp["fills"] = fills
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ── purchase ──────────────────────────────────────────────────────────

// The purchaser is always the authenticated wallet; a solver authorization
// naming anyone else fails signature recovery in the engine.
type purchaseRequest struct {
	Solver      string `json:"solver" binding:"required"`
	DiscountBps uint16 `json:"discount_bps"`
	Expiry      uint32 `json:"expiry" binding:"required"`
	TimeToBuy   uint32 `json:"time_to_buy"`
	Signature   string `json:"signature" binding:"required"`
}

func (h *Handler) handlePurchase(c *gin.Context) {
	orderID := common.HexToHash(c.Param("id"))
	purchaser, ok := actingWallet(c)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature hex"})
		return
	}

	auth := &order.PurchaseAuthorization{
		OrderID:     orderID,
		Purchaser:   purchaser,
		DiscountBps: req.DiscountBps,
		Expiry:      req.Expiry,
		TimeToBuy:   req.TimeToBuy,
	}
	err = h.engine.PurchaseOrder(c.Request.Context(), orderID, common.HexToHash(req.Solver), auth, sig, purchaser)
	if err != nil {
		h.log.Warn("purchase rejected", zap.String("order", orderID.Hex()), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID.Hex(), "purchaser": purchaser.Hex()})
}

// ── finalise ──────────────────────────────────────────────────────────

// The caller the engine sees is the authenticated wallet. Anyone but the
// claim owner must attach the owner's delegation as owner_signature.
type finaliseRequest struct {
	Solvers        []string `json:"solvers" binding:"required"`
	Timestamps     []uint32 `json:"timestamps" binding:"required"`
	Destination    string   `json:"destination" binding:"required"`
	Call           string   `json:"call"`
	OwnerSignature string   `json:"owner_signature"`
}

func (h *Handler) handleFinalise(c *gin.Context) {
	orderID := common.HexToHash(c.Param("id"))
	caller, ok := actingWallet(c)
	if !ok {
		return
	}

	var req finaliseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	solvers := make([]common.Hash, len(req.Solvers))
	for i, s := range req.Solvers {
		solvers[i] = common.HexToHash(s)
	}
	var call, ownerSig []byte
	var err error
	if req.Call != "" {
		if call, err = decodeHex(req.Call); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid call hex"})
			return
		}
	}
	if req.OwnerSignature != "" {
		if ownerSig, err = decodeHex(req.OwnerSignature); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature hex"})
			return
		}
	}

	err = h.engine.Finalise(c.Request.Context(), orderID, solvers, req.Timestamps,
		common.HexToHash(req.Destination), call, caller, ownerSig, nil)
	if err != nil {
		h.log.Warn("finalise rejected", zap.String("order", orderID.Hex()), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if h.journal != nil {
		if jerr := h.journal.SetStatus(orderID.Hex(), settlement.StatusFinalised.String()); jerr != nil {
			h.log.Warn("journal update failed", zap.Error(jerr))
		}
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID.Hex(), "status": settlement.StatusFinalised.String()})
}

// ── fills ─────────────────────────────────────────────────────────────

// The transfer is funded by the authenticated wallet's account.
type fillRequest struct {
	OrderID      string        `json:"order_id" binding:"required"`
	Output       *order.Output `json:"output" binding:"required"`
	FillDeadline uint32        `json:"fill_deadline" binding:"required"`
	Solver       string        `json:"solver" binding:"required"`
}

func (h *Handler) handleFill(c *gin.Context) {
	if h.filler == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "filling not enabled on this chain"})
		return
	}
	payerWallet, ok := actingWallet(c)
	if !ok {
		return
	}
	var req fillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	solver, err := h.filler.Fill(c.Request.Context(),
		order.AddressToBytes32(payerWallet), req.FillDeadline,
		common.HexToHash(req.OrderID), req.Output, common.HexToHash(req.Solver))
	if err != nil {
		h.log.Warn("fill rejected", zap.String("order", req.OrderID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": req.OrderID, "solver": solver.Hex()})
}

// ── oracle ────────────────────────────────────────────────────────────

type oracleSubmitRequest struct {
	Payloads []string `json:"payloads" binding:"required"`
}

func (h *Handler) handleOracleSubmit(c *gin.Context) {
	if h.filler == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no local payload source"})
		return
	}
	var req oracleSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	payloads := make([][]byte, len(req.Payloads))
	for i, p := range req.Payloads {
		raw, err := decodeHex(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload hex"})
			return
		}
		payloads[i] = raw
	}

	if err := h.adapter.Submit(c.Request.Context(), h.filler, payloads); err != nil {
		h.log.Warn("oracle submit rejected", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": len(payloads)})
}

type oracleReceiveRequest struct {
	Proof string `json:"proof" binding:"required"`
}

func (h *Handler) handleOracleReceive(c *gin.Context) {
	var req oracleReceiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	proof, err := decodeHex(req.Proof)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proof hex"})
		return
	}

	if err := h.adapter.Receive(c.Request.Context(), proof); err != nil {
		h.log.Warn("oracle receive rejected", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// ── helpers ───────────────────────────────────────────────────────────

// actingWallet is the identity mutating handlers act as. It comes from the
// auth middleware, never from the request body.
func actingWallet(c *gin.Context) (common.Address, bool) {
	addr, ok := auth.Wallet(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated wallet"})
		return common.Address{}, false
	}
	return addr, true
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// statusFor maps engine errors onto HTTP codes; anything unrecognized is a
// conflict so clients retry deliberately rather than blindly.
func statusFor(err error) int {
	switch {
	case isAny(err,
		settlement.ErrNotRegistered):
		return http.StatusNotFound
	case isAny(err,
		settlement.ErrWrongOriginChain,
		settlement.ErrInvalidDeadlines,
		settlement.ErrLengthMismatch,
		settlement.ErrBadDiscount,
		oracle.ErrMalformedProof):
		return http.StatusBadRequest
	case isAny(err,
		order.ErrInvalidSigner,
		settlement.ErrUnauthorizedCaller):
		return http.StatusUnauthorized
	default:
		return http.StatusConflict
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
