package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"github.com/code-payments/shield-server/pkg/rate"
	"github.com/code-payments/shield-server/pkg/retry"
	"github.com/code-payments/shield-server/pkg/retry/backoff"
)

const (
	ticksPerSec  = 160
	ticksPerSlot = 64
	slotsPerSec  = ticksPerSec / ticksPerSlot

	// PollRate is the rate at which blocks should be polled at.
	PollRate = (time.Second / slotsPerSec) / 2

	invalidParamCode = -32602

	defaultRequestTimeout = 30 * time.Second
)

type Commitment struct {
	Commitment string `json:"commitment"`
}

const (
	confirmationStatusProcessed = "processed"
	confirmationStatusConfirmed = "confirmed"
	confirmationStatusFinalized = "finalized"
)

var (
	CommitmentProcessed = Commitment{Commitment: confirmationStatusProcessed}
	CommitmentConfirmed = Commitment{Commitment: confirmationStatusConfirmed}
	CommitmentFinalized = Commitment{Commitment: confirmationStatusFinalized}
)

// CommitmentFromString parses a commitment level name
func CommitmentFromString(value string) (Commitment, error) {
	switch value {
	case confirmationStatusProcessed, confirmationStatusConfirmed, confirmationStatusFinalized:
		return Commitment{Commitment: value}, nil
	}
	return Commitment{}, errors.Errorf("invalid commitment: %q", value)
}

var (
	ErrNoBalance = errors.New("no balance")
)

type SignatureStatus struct {
	Slot        uint64
	ErrorResult *TransactionError

	// Confirmations will be nil if the transaction has been rooted.
	Confirmations      *int
	ConfirmationStatus string
}

func (s SignatureStatus) Confirmed() bool {
	if s.Finalized() {
		return true
	}
	if s.ConfirmationStatus == confirmationStatusConfirmed {
		return true
	}
	return s.Confirmations != nil && *s.Confirmations >= 1
}

func (s SignatureStatus) Finalized() bool {
	return s.Confirmations == nil || s.ConfirmationStatus == confirmationStatusFinalized
}

// Reached reports whether the status satisfies the requested commitment level
func (s SignatureStatus) Reached(commitment Commitment) bool {
	switch commitment.Commitment {
	case confirmationStatusFinalized:
		return s.Finalized()
	case confirmationStatusConfirmed:
		return s.Confirmed()
	default:
		return true
	}
}

// BlockhashContext is a recent blockhash along with the slot the RPC node
// observed it at. Transactions built with the blockhash are submitted with the
// slot as their minimum context slot, and confirmation gives up once the block
// height passes LastValidBlockHeight.
type BlockhashContext struct {
	Blockhash            Blockhash
	LastValidBlockHeight uint64
	Slot                 uint64
}

// SubmitOptions configures sendTransaction.
type SubmitOptions struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
	MinContextSlot      uint64
	MaxRetries          *uint
}

// Client provides an interaction with the Solana JSON RPC API.
//
// Reference: https://solana.com/docs/rpc
type Client interface {
	GetBalance(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (uint64, error)
	GetBlockHeight(ctx context.Context, commitment Commitment, minContextSlot uint64) (uint64, error)
	GetLatestBlockhashAndContext(ctx context.Context, commitment Commitment) (BlockhashContext, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error)
	GetSlot(ctx context.Context, commitment Commitment) (uint64, error)
	SubmitTransaction(ctx context.Context, txn Transaction, opts SubmitOptions) (Signature, error)
}

var (
	errRateLimited  = errors.New("rate limited")
	errServiceError = errors.New("service error")
)

type client struct {
	log     *logrus.Entry
	client  jsonrpc.RPCClient
	limiter rate.Limiter
	retrier retry.Retrier
}

// New returns a client using the specified endpoint.
func New(endpoint string, limiter rate.Limiter) Client {
	return NewWithRPCOptions(endpoint, limiter, &jsonrpc.RPCClientOpts{
		HTTPClient: &http.Client{Timeout: defaultRequestTimeout},
	})
}

// NewWithRPCOptions returns a client configured with the specified RPC options.
func NewWithRPCOptions(endpoint string, limiter rate.Limiter, opts *jsonrpc.RPCClientOpts) Client {
	if limiter == nil {
		limiter = &rate.NoLimiter{}
	}

	return &client{
		log:     logrus.StandardLogger().WithField("type", "solana/client"),
		client:  jsonrpc.NewClientWithOpts(endpoint, opts),
		limiter: limiter,
		retrier: retry.NewRetrier(
			retry.RetriableErrors(errRateLimited, errServiceError),
			retry.Limit(3),
			retry.BackoffWithJitter(backoff.BinaryExponential(time.Second), 10*time.Second, 0.1),
		),
	}
}

func (c *client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	_, err := c.retrier.Retry(func() error {
		if err := c.limiter.Wait(ctx, "solana"); err != nil {
			return err
		}

		err := c.client.CallFor(out, method, params...)
		if err == nil {
			return nil
		}
		return c.handleRpcError(method, err)
	})
	return err
}

func (c *client) handleRpcError(method string, err error) error {
	rpcErr, ok := err.(*jsonrpc.RPCError)
	if !ok {
		return err
	}

	if rpcErr.Code == 429 {
		c.log.WithField("method", method).Warn("rate limited")
		return errRateLimited
	}
	if rpcErr.Code >= 500 || rpcErr.Code == rpcNodeUnhealthyCode || rpcErr.Code == rpcBlockNotAvailableCode {
		return errors.Wrap(errServiceError, rpcErr.Message)
	}

	return err
}

type commitmentConfig struct {
	Commitment     string  `json:"commitment,omitempty"`
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

func (c *client) GetBalance(ctx context.Context, account ed25519.PublicKey, commitment Commitment) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}

	err := c.call(ctx, &resp, "getBalance", base58.Encode(account), commitment)
	if err != nil {
		if rpcErr, ok := err.(*jsonrpc.RPCError); ok && rpcErr.Code == invalidParamCode {
			return 0, ErrNoBalance
		}
		return 0, errors.Wrap(err, "getBalance() failed to send request")
	}

	return resp.Value, nil
}

func (c *client) GetBlockHeight(ctx context.Context, commitment Commitment, minContextSlot uint64) (uint64, error) {
	config := commitmentConfig{Commitment: commitment.Commitment}
	if minContextSlot > 0 {
		config.MinContextSlot = &minContextSlot
	}

	// The config must be wrapped in an []interface{}, otherwise it is sent as
	// named parameters.
	var height uint64
	if err := c.call(ctx, &height, "getBlockHeight", []interface{}{config}); err != nil {
		if rpcErr, ok := err.(*jsonrpc.RPCError); ok && rpcErr.Code == rpcMinContextSlotNotReachedCode {
			return 0, ErrMinContextSlotNotReached
		}
		return 0, errors.Wrap(err, "getBlockHeight() failed to send request")
	}
	return height, nil
}

func (c *client) GetLatestBlockhashAndContext(ctx context.Context, commitment Commitment) (BlockhashContext, error) {
	var resp struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}

	if err := c.call(ctx, &resp, "getLatestBlockhash", []interface{}{commitment}); err != nil {
		return BlockhashContext{}, errors.Wrap(err, "getLatestBlockhash() failed to send request")
	}

	hashBytes, err := base58.Decode(resp.Value.Blockhash)
	if err != nil {
		return BlockhashContext{}, errors.Wrap(err, "invalid base58 encoded hash in response")
	}
	if len(hashBytes) != len(Blockhash{}) {
		return BlockhashContext{}, errors.Errorf("invalid blockhash length: %d", len(hashBytes))
	}

	result := BlockhashContext{
		LastValidBlockHeight: resp.Value.LastValidBlockHeight,
		Slot:                 resp.Context.Slot,
	}
	copy(result.Blockhash[:], hashBytes)
	return result, nil
}

func (c *client) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (lamports uint64, err error) {
	if err := c.call(ctx, &lamports, "getMinimumBalanceForRentExemption", dataSize); err != nil {
		return 0, errors.Wrap(err, "getMinimumBalanceForRentExemption() failed to send request")
	}
	return lamports, nil
}

func (c *client) GetSlot(ctx context.Context, commitment Commitment) (slot uint64, err error) {
	if err := c.call(ctx, &slot, "getSlot", []interface{}{commitment}); err != nil {
		return 0, errors.Wrap(err, "getSlot() failed to send request")
	}
	return slot, nil
}

func (c *client) GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error) {
	b58Sigs := make([]string, len(sigs))
	for i := range sigs {
		b58Sigs[i] = sigs[i].String()
	}

	config := struct {
		SearchTransactionHistory bool `json:"searchTransactionHistory"`
	}{
		SearchTransactionHistory: true,
	}

	type signatureStatus struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *int            `json:"confirmations"`
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	}

	var resp struct {
		Value []*signatureStatus `json:"value"`
	}
	if err := c.call(ctx, &resp, "getSignatureStatuses", b58Sigs, config); err != nil {
		return nil, errors.Wrap(err, "getSignatureStatuses() failed to send request")
	}
	if len(resp.Value) != len(sigs) {
		return nil, errors.Errorf("expected %d statuses, got %d", len(sigs), len(resp.Value))
	}

	statuses := make([]*SignatureStatus, len(sigs))
	for i, v := range resp.Value {
		if v == nil {
			continue
		}

		statuses[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			ConfirmationStatus: v.ConfirmationStatus,
		}

		if len(v.Err) == 0 || bytes.Equal(v.Err, []byte("null")) {
			continue
		}

		var raw interface{}
		if err := json.Unmarshal(v.Err, &raw); err != nil {
			return nil, errors.Wrap(err, "failed to parse transaction result")
		}

		txErr, err := ParseTransactionError(raw)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse transaction result")
		}
		statuses[i].ErrorResult = txErr
	}

	return statuses, nil
}

func (c *client) SubmitTransaction(ctx context.Context, txn Transaction, opts SubmitOptions) (Signature, error) {
	sig := txn.Signature()

	txnBytes := txn.Marshal()
	if len(txnBytes) > MaxTransactionSize {
		return sig, ErrTransactionTooLarge
	}

	config := struct {
		Encoding            string  `json:"encoding"`
		SkipPreflight       bool    `json:"skipPreflight"`
		PreflightCommitment string  `json:"preflightCommitment,omitempty"`
		MinContextSlot      *uint64 `json:"minContextSlot,omitempty"`
		MaxRetries          *uint   `json:"maxRetries,omitempty"`
	}{
		Encoding:            "base58",
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment.Commitment,
		MaxRetries:          opts.MaxRetries,
	}
	if opts.MinContextSlot > 0 {
		config.MinContextSlot = &opts.MinContextSlot
	}

	var sigStr string
	if err := c.call(ctx, &sigStr, "sendTransaction", base58.Encode(txnBytes), config); err != nil {
		c.log.WithError(err).WithField("signature", sig.String()).Debug("sendTransaction failed")
		return sig, errors.Wrap(classifySubmitError(err), "sendTransaction() failed")
	}

	if sigStr != "" && sigStr != sig.String() {
		return sig, errors.Errorf("unexpected signature in response: %s", sigStr)
	}
	return sig, nil
}
