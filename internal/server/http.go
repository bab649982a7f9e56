// Package server exposes the breaker over HTTP: flow submission for
// protected contracts, admin operations for the owner, and read-only
// views. NATS is the high-throughput path; this API serves integrators
// and operators.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"FlowBreaker/internal/breaker"
	"FlowBreaker/internal/event"
	"FlowBreaker/internal/gate"
	"FlowBreaker/internal/observability"
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CallerHeader carries the authenticated caller address. Authentication
// itself (signature checks, mTLS) sits in front of this service.
const CallerHeader = "X-Caller-Address"

type Handler struct {
	engine  *breaker.Engine
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewHandler(engine *breaker.Engine, metrics *observability.Metrics) *Handler {
	return &Handler{
		engine:  engine,
		log:     observability.NewLogger("http"),
		metrics: metrics,
	}
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), h.observe())

	v1 := r.Group("/v1")
	{
		v1.POST("/increase", h.Increase)
		v1.POST("/decrease", h.Decrease)

		v1.GET("/status", h.Status)
		v1.GET("/params/:identifier", h.Params)
		v1.GET("/protected-contracts/:address", h.ProtectedContract)
		v1.GET("/liquidity-changes/:identifier/:tick", h.LiquidityChanges)

		admin := v1.Group("/admin")
		{
			admin.POST("/params", h.AddParams)
			admin.PUT("/params/:identifier", h.UpdateParams)
			admin.POST("/protected-contracts", h.AddProtected)
			admin.DELETE("/protected-contracts", h.RemoveProtected)
			admin.POST("/operational", h.SetOperational)
			admin.POST("/grace-period", h.StartGrace)
			admin.POST("/override-rate-limit/:identifier", h.OverrideRateLimit)
			admin.POST("/limiter-override/:identifier", h.SetLimiterOverride)
			admin.POST("/backlog/:identifier", h.ClearBacklog)
		}
	}

	return r
}

func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if h.metrics == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		h.metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, status).Inc()
		h.metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// httpStatus maps engine errors onto response codes. A trip is not an
// error and never reaches this mapping.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, gate.ErrNotOwner),
		errors.Is(err, gate.ErrNotAProtectedContract):
		return http.StatusForbidden
	case errors.Is(err, gate.ErrNotOperational):
		return http.StatusServiceUnavailable
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrAlreadyExists),
		errors.Is(err, state.ErrNotRateLimited),
		errors.Is(err, state.ErrCooldownNotElapsed):
		return http.StatusConflict
	case errors.Is(err, state.ErrInvalidBps),
		errors.Is(err, state.ErrInvalidGracePeriodEnd),
		errors.Is(err, breaker.ErrInvalidAmount),
		errors.Is(err, breaker.ErrInvalidMaxIterations):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) submit(c *gin.Context, op event.Operation) (*breaker.Result, bool) {
	res, err := h.engine.Submit(c.Request.Context(), op)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}
	return res, true
}

func caller(c *gin.Context) (string, bool) {
	addr := c.GetHeader(CallerHeader)
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + CallerHeader + " header"})
		return "", false
	}
	return addr, true
}

func parseIdentifier(c *gin.Context, raw string) (state.Identifier, bool) {
	id := state.Identifier(raw)
	if !id.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identifier"})
		return "", false
	}
	return id, true
}

// --- Flow endpoints ---

// FlowRequest is the body of POST /v1/increase and /v1/decrease.
type FlowRequest struct {
	OpID             string   `json:"op_id" binding:"required"`
	Identifier       string   `json:"identifier" binding:"required"`
	Amount           math.Int `json:"amount"`
	Token            string   `json:"token"`
	SettlementAmount math.Int `json:"settlement_amount"`
	Payload          []byte   `json:"payload,omitempty"`
	Timestamp        int64    `json:"timestamp" binding:"required"`
}

func (h *Handler) parseFlow(c *gin.Context) (uuid.UUID, state.Identifier, *FlowRequest, bool) {
	var req FlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, "", nil, false
	}
	opID, err := uuid.Parse(req.OpID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid op_id"})
		return uuid.Nil, "", nil, false
	}
	id, ok := parseIdentifier(c, req.Identifier)
	if !ok {
		return uuid.Nil, "", nil, false
	}
	if req.Amount.IsNil() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing amount"})
		return uuid.Nil, "", nil, false
	}
	return opID, id, &req, true
}

func flowResponse(res *breaker.Result) gin.H {
	return gin.H{
		"rate_limited": res.Decision == breaker.DecisionTrip,
		"sequence":     res.Sequence,
		"duplicate":    res.Duplicate,
	}
}

func (h *Handler) Increase(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	opID, id, req, ok := h.parseFlow(c)
	if !ok {
		return
	}

	res, ok := h.submit(c, &event.LiquidityIncrease{
		OpID:             opID,
		Ident:            id,
		Amount:           req.Amount,
		Token:            req.Token,
		SettlementAmount: req.SettlementAmount,
		Payload:          req.Payload,
		CallerAddr:       addr,
		Timestamp:        req.Timestamp,
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, flowResponse(res))
}

func (h *Handler) Decrease(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	opID, id, req, ok := h.parseFlow(c)
	if !ok {
		return
	}

	res, ok := h.submit(c, &event.LiquidityDecrease{
		OpID:             opID,
		Ident:            id,
		Amount:           req.Amount,
		Token:            req.Token,
		SettlementAmount: req.SettlementAmount,
		Payload:          req.Payload,
		CallerAddr:       addr,
		Timestamp:        req.Timestamp,
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, flowResponse(res))
}

// --- Admin endpoints ---

// ParamsRequest is the body of POST /v1/admin/params.
type ParamsRequest struct {
	Identifier          string   `json:"identifier" binding:"required"`
	MinLiqRetainedBps   int64    `json:"min_liq_retained_bps"`
	LimitBeginThreshold math.Int `json:"limit_begin_threshold"`
	SettlementModule    string   `json:"settlement_module" binding:"required"`
	Timestamp           int64    `json:"timestamp" binding:"required"`
}

func (h *Handler) AddParams(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	var req ParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := parseIdentifier(c, req.Identifier)
	if !ok {
		return
	}

	res, ok := h.submit(c, event.NewAddSecurityParameter(addr, req.Timestamp, id,
		req.MinLiqRetainedBps, req.LimitBeginThreshold, req.SettlementModule))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "identifier": string(id)})
}

// UpdateParamsRequest is the body of PUT /v1/admin/params/:identifier.
type UpdateParamsRequest struct {
	MinLiqRetainedBps   int64    `json:"min_liq_retained_bps"`
	LimitBeginThreshold math.Int `json:"limit_begin_threshold"`
	SettlementModule    string   `json:"settlement_module" binding:"required"`
	Timestamp           int64    `json:"timestamp" binding:"required"`
}

func (h *Handler) UpdateParams(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := parseIdentifier(c, c.Param("identifier"))
	if !ok {
		return
	}
	var req UpdateParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.submit(c, event.NewUpdateSecurityParameter(addr, req.Timestamp, id,
		req.MinLiqRetainedBps, req.LimitBeginThreshold, req.SettlementModule))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "identifier": string(id)})
}

// ContractsRequest is the body of the protected-contract endpoints.
type ContractsRequest struct {
	Contracts []string `json:"contracts" binding:"required"`
	Timestamp int64    `json:"timestamp" binding:"required"`
}

func (h *Handler) AddProtected(c *gin.Context) {
	h.contractsOp(c, false)
}

func (h *Handler) RemoveProtected(c *gin.Context) {
	h.contractsOp(c, true)
}

func (h *Handler) contractsOp(c *gin.Context, remove bool) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	var req ContractsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var op event.Operation
	if remove {
		op = event.NewRemoveProtectedContracts(addr, req.Timestamp, req.Contracts)
	} else {
		op = event.NewAddProtectedContracts(addr, req.Timestamp, req.Contracts)
	}

	res, ok := h.submit(c, op)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "contracts": req.Contracts})
}

// OperationalRequest is the body of POST /v1/admin/operational.
type OperationalRequest struct {
	Operational *bool `json:"operational" binding:"required"`
	Timestamp   int64 `json:"timestamp" binding:"required"`
}

func (h *Handler) SetOperational(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	var req OperationalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.submit(c, event.NewSetOperationalStatus(addr, req.Timestamp, *req.Operational))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "operational": *req.Operational})
}

// GraceRequest is the body of POST /v1/admin/grace-period.
type GraceRequest struct {
	EndTimestamp int64 `json:"end_timestamp" binding:"required"`
	Timestamp    int64 `json:"timestamp" binding:"required"`
}

func (h *Handler) StartGrace(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	var req GraceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.submit(c, event.NewStartGracePeriod(addr, req.Timestamp, req.EndTimestamp))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "grace_period_end": req.EndTimestamp})
}

// OverrideRequest is the body of POST /v1/admin/override-rate-limit/:identifier.
type OverrideRequest struct {
	Timestamp int64 `json:"timestamp" binding:"required"`
}

func (h *Handler) OverrideRateLimit(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := parseIdentifier(c, c.Param("identifier"))
	if !ok {
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.submit(c, event.NewOverrideRateLimit(addr, req.Timestamp, id))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "identifier": string(id)})
}

// LimiterOverrideRequest is the body of POST /v1/admin/limiter-override/:identifier.
type LimiterOverrideRequest struct {
	Overridden *bool `json:"overridden" binding:"required"`
	Timestamp  int64 `json:"timestamp" binding:"required"`
}

func (h *Handler) SetLimiterOverride(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := parseIdentifier(c, c.Param("identifier"))
	if !ok {
		return
	}
	var req LimiterOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.submit(c, event.NewSetLimiterOverridden(addr, req.Timestamp, id, *req.Overridden))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "overridden": res.Overridden})
}

// ClearBacklogRequest is the body of POST /v1/admin/backlog/:identifier.
type ClearBacklogRequest struct {
	MaxIterations int   `json:"max_iterations" binding:"required"`
	Timestamp     int64 `json:"timestamp" binding:"required"`
}

func (h *Handler) ClearBacklog(c *gin.Context) {
	addr, ok := caller(c)
	if !ok {
		return
	}
	id, ok := parseIdentifier(c, c.Param("identifier"))
	if !ok {
		return
	}
	var req ClearBacklogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.submit(c, event.NewClearBackLog(addr, req.Timestamp, id, req.MaxIterations))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": res.Sequence, "removed": res.Removed})
}

// --- Read endpoints ---

func (h *Handler) Status(c *gin.Context) {
	now := time.Now().Unix()
	if raw := c.Query("now"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid now parameter"})
			return
		}
		now = parsed
	}

	v, err := h.engine.Status(c.Request.Context(), now)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) Params(c *gin.Context) {
	id, ok := parseIdentifier(c, c.Param("identifier"))
	if !ok {
		return
	}

	v, err := h.engine.Param(c.Request.Context(), id)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) ProtectedContract(c *gin.Context) {
	addr := c.Param("address")

	protected, err := h.engine.IsProtected(c.Request.Context(), addr)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr, "protected": protected})
}

func (h *Handler) LiquidityChanges(c *gin.Context) {
	id, ok := parseIdentifier(c, c.Param("identifier"))
	if !ok {
		return
	}
	tick, err := strconv.ParseInt(c.Param("tick"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tick timestamp"})
		return
	}

	v, err := h.engine.LiquidityChanges(c.Request.Context(), id, tick)
	if err != nil {
		c.JSON(httpStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}
