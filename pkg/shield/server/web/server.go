package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	"github.com/code-payments/shield-server/pkg/shield/transfer"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
	"github.com/code-payments/shield-server/pkg/solana"
)

// Server exposes the pipeline over HTTP. Transfers are signed by a single
// server side wallet, which is the sender of every transfer it starts.
type Server struct {
	log      *logrus.Entry
	pipeline *transfer.Pipeline
	wallet   wallet.Wallet

	newRelic *newrelic.Application
	gatherer prometheus.Gatherer

	engine *gin.Engine
}

type Option func(s *Server)

// WithNewRelic instruments every request with a New Relic transaction
func WithNewRelic(app *newrelic.Application) Option {
	return func(s *Server) {
		s.newRelic = app
	}
}

// WithPrometheus serves metrics collected by gatherer at /metrics
func WithPrometheus(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

func NewServer(pipeline *transfer.Pipeline, w wallet.Wallet, opts ...Option) *Server {
	s := &Server{
		log:      logrus.StandardLogger().WithField("type", "shield/server/web"),
		pipeline: pipeline,
		wallet:   w,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), loggingMiddleware(s.log), newRelicMiddleware(s.newRelic))
	s.routes()
	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)
	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1")
	v1.GET("/balance/:address", s.getBalance)
	v1.POST("/transfers", s.sendTransfer)
	v1.GET("/transfers/:id", s.getTransfer)
	v1.POST("/transfers/:id/resume", s.resumeTransfer)
	v1.POST("/unshield", s.unshield)
	v1.GET("/senders/:address/transfers", s.getHistory)
	v1.GET("/resumable-transfers", s.getResumable)
}

type balanceResponse struct {
	Address        string  `json:"address"`
	PrivateBalance *string `json:"private_balance"`
}

type transferRequest struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
}

type transferResponse struct {
	TransferId              string  `json:"transfer_id"`
	Signature               string  `json:"signature"`
	CompressSignature       string  `json:"compress_signature"`
	RecipientPrivateBalance *string `json:"recipient_private_balance"`
	SenderPrivateBalance    *string `json:"sender_private_balance"`
}

type unshieldRequest struct {
	Amount float64 `json:"amount"`
}

type unshieldResponse struct {
	Signature string `json:"signature"`
}

type transferRecord struct {
	TransferId        string  `json:"transfer_id"`
	Kind              string  `json:"kind"`
	Sender            string  `json:"sender"`
	Recipient         string  `json:"recipient"`
	Lamports          uint64  `json:"lamports"`
	State             string  `json:"state"`
	Compressed        bool    `json:"compressed"`
	CompressSignature *string `json:"compress_signature,omitempty"`
	TransferSignature *string `json:"transfer_signature,omitempty"`
	ResumedFrom       *string `json:"resumed_from,omitempty"`
	FailureReason     *string `json:"failure_reason,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

type historyResponse struct {
	Transfers  []*transferRecord `json:"transfers"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getBalance(c *gin.Context) {
	address := c.Param("address")
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		s.abort(c, transfer.ErrInvalidRecipient)
		return
	}

	// A nil balance means it's currently unknown, which isn't an error
	s.respond(c, http.StatusOK, &balanceResponse{
		Address:        address,
		PrivateBalance: s.pipeline.CheckPrivateBalance(c.Request.Context(), address),
	})
}

func (s *Server) sendTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, errors.Wrap(errInvalidRequest, err.Error()))
		return
	}

	res, err := s.pipeline.SendPrivateTransaction(c.Request.Context(), transfer.Request{
		Amount:           req.Amount,
		RecipientAddress: req.Recipient,
		Wallet:           s.wallet,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	s.respond(c, http.StatusOK, toTransferResponse(res))
}

func (s *Server) resumeTransfer(c *gin.Context) {
	res, err := s.pipeline.ResumeTransfer(c.Request.Context(), c.Param("id"), s.wallet, nil)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.respond(c, http.StatusOK, toTransferResponse(res))
}

func (s *Server) getTransfer(c *gin.Context) {
	record, err := s.pipeline.GetTransfer(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	s.respond(c, http.StatusOK, toTransferRecord(record))
}

func (s *Server) unshield(c *gin.Context) {
	var req unshieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, errors.Wrap(errInvalidRequest, err.Error()))
		return
	}

	sig, err := s.pipeline.UnshieldSol(c.Request.Context(), req.Amount, s.wallet)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.respond(c, http.StatusOK, &unshieldResponse{Signature: sig.String()})
}

func (s *Server) getHistory(c *gin.Context) {
	opts, err := paginationOptions(c)
	if err != nil {
		s.abort(c, err)
		return
	}

	records, err := s.pipeline.GetTransferHistory(c.Request.Context(), c.Param("address"), opts...)
	if err != nil {
		s.abort(c, err)
		return
	}

	var next query.Cursor
	if len(records) > 0 {
		next = query.ToCursor(records[len(records)-1].Id)
	}
	s.respond(c, http.StatusOK, toHistoryResponse(records, next))
}

func (s *Server) getResumable(c *gin.Context) {
	opts, err := paginationOptions(c)
	if err != nil {
		s.abort(c, err)
		return
	}

	records, next, err := s.pipeline.GetResumableTransfers(c.Request.Context(), opts...)
	if err != nil {
		s.abort(c, err)
		return
	}
	s.respond(c, http.StatusOK, toHistoryResponse(records, next))
}

func paginationOptions(c *gin.Context) ([]query.Option, error) {
	var opts []query.Option

	if value := c.Query("cursor"); len(value) > 0 {
		cursor, err := query.CursorFromBase58(value)
		if err != nil {
			return nil, errors.Wrap(errInvalidRequest, err.Error())
		}
		opts = append(opts, query.WithCursor(cursor))
	}

	if value := c.Query("limit"); len(value) > 0 {
		limit, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, errors.Wrap(errInvalidRequest, "invalid limit")
		}
		opts = append(opts, query.WithLimit(limit))
	}

	if value := c.Query("order"); len(value) > 0 {
		direction, err := query.ToOrdering(value)
		if err != nil {
			return nil, errors.Wrap(errInvalidRequest, err.Error())
		}
		opts = append(opts, query.WithDirection(direction))
	}

	return opts, nil
}

func toHistoryResponse(records []*journal.Record, next query.Cursor) *historyResponse {
	res := &historyResponse{
		Transfers: make([]*transferRecord, len(records)),
	}
	for i, record := range records {
		res.Transfers[i] = toTransferRecord(record)
	}
	if len(next) > 0 {
		res.NextCursor = next.ToBase58()
	}
	return res
}

func (s *Server) respond(c *gin.Context, status int, body interface{}) {
	c.Set(resultCodeContextKey, resultOK)
	c.JSON(status, body)
}

func (s *Server) abort(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.Set(resultCodeContextKey, apiErr.Result)

	log := s.log.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"result": apiErr.Result,
	})
	if apiErr.Status >= http.StatusInternalServerError {
		log.Warn("request failed")
	} else {
		log.Debug("request rejected")
	}

	c.AbortWithStatusJSON(apiErr.Status, apiErr)
}

func toTransferResponse(res *transfer.Result) *transferResponse {
	return &transferResponse{
		TransferId:              res.TransferId,
		Signature:               res.Signature.String(),
		CompressSignature:       res.CompressSignature.String(),
		RecipientPrivateBalance: res.RecipientPrivateBalance,
		SenderPrivateBalance:    res.SenderPrivateBalance,
	}
}

func toTransferRecord(record *journal.Record) *transferRecord {
	return &transferRecord{
		TransferId:        record.TransferId,
		Kind:              record.Kind.String(),
		Sender:            record.Sender,
		Recipient:         record.Recipient,
		Lamports:          record.Lamports,
		State:             record.State.String(),
		Compressed:        record.Compressed,
		CompressSignature: record.CompressSignature,
		TransferSignature: record.TransferSignature,
		ResumedFrom:       record.ResumedFrom,
		FailureReason:     record.FailureReason,
		CreatedAt:         record.CreatedAt.UTC().Format(time.RFC3339),
	}
}
