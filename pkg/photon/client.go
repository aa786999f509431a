package photon

import (
	"context"
	"crypto/ed25519"
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
	defaultRequestTimeout = 30 * time.Second

	// DefaultPageSize is the number of accounts requested per page when
	// listing compressed accounts.
	DefaultPageSize = 1000

	// Guards against an indexer that never stops returning cursors
	maxPages = 1000
)

var (
	ErrProofMismatch = errors.New("validity proof does not match the requested hashes")

	errRateLimited  = errors.New("rate limited")
	errServiceError = errors.New("service error")
)

// Client provides an interaction with the ZK compression indexer and prover
// JSON RPC API.
//
// Reference: https://www.zkcompression.com/developers/json-rpc-methods
type Client interface {
	// GetCompressedAccountsByOwner returns every compressed account currently
	// owned by owner, following pagination cursors until exhausted.
	GetCompressedAccountsByOwner(ctx context.Context, owner ed25519.PublicKey) ([]*CompressedAccount, error)

	// GetValidityProof requests an inclusion proof for the provided leaf hashes
	GetValidityProof(ctx context.Context, hashes []Hash) (*ValidityProof, error)

	// GetIndexerSlot returns the last slot processed by the indexer
	GetIndexerSlot(ctx context.Context) (uint64, error)
}

type client struct {
	log      *logrus.Entry
	client   jsonrpc.RPCClient
	limiter  rate.Limiter
	retrier  retry.Retrier
	pageSize int
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
		log:     logrus.StandardLogger().WithField("type", "photon/client"),
		client:  jsonrpc.NewClientWithOpts(endpoint, opts),
		limiter: limiter,
		retrier: retry.NewRetrier(
			retry.RetriableErrors(errRateLimited, errServiceError),
			retry.Limit(3),
			retry.BackoffWithJitter(backoff.BinaryExponential(time.Second), 10*time.Second, 0.1),
		),
		pageSize: DefaultPageSize,
	}
}

func (c *client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	_, err := c.retrier.Retry(func() error {
		if err := c.limiter.Wait(ctx, "photon"); err != nil {
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
	if rpcErr.Code >= 500 {
		return errors.Wrap(errServiceError, rpcErr.Message)
	}

	return err
}

func (c *client) GetCompressedAccountsByOwner(ctx context.Context, owner ed25519.PublicKey) ([]*CompressedAccount, error) {
	type request struct {
		Owner  string  `json:"owner"`
		Cursor *string `json:"cursor,omitempty"`
		Limit  int     `json:"limit"`
	}

	var res []*CompressedAccount
	var cursor *string
	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, errors.New("getCompressedAccountsByOwner() exceeded page limit")
		}

		var resp struct {
			Value struct {
				Items  []*jsonCompressedAccount `json:"items"`
				Cursor *string                  `json:"cursor"`
			} `json:"value"`
		}

		// Photon methods take named parameters, which is how a single struct
		// param is sent.
		req := request{
			Owner:  base58.Encode(owner),
			Cursor: cursor,
			Limit:  c.pageSize,
		}
		if err := c.call(ctx, &resp, "getCompressedAccountsByOwner", req); err != nil {
			return nil, errors.Wrap(err, "getCompressedAccountsByOwner() failed to send request")
		}

		for _, item := range resp.Value.Items {
			account, err := item.toCompressedAccount()
			if err != nil {
				return nil, errors.Wrap(err, "invalid compressed account in response")
			}
			res = append(res, account)
		}

		if resp.Value.Cursor == nil || *resp.Value.Cursor == "" || len(resp.Value.Items) == 0 {
			break
		}
		cursor = resp.Value.Cursor
	}

	return res, nil
}

func (c *client) GetValidityProof(ctx context.Context, hashes []Hash) (*ValidityProof, error) {
	if len(hashes) == 0 {
		return nil, errors.New("at least one hash is required")
	}

	encoded := make([]string, len(hashes))
	for i, hash := range hashes {
		encoded[i] = hash.String()
	}

	req := struct {
		Hashes                []string      `json:"hashes"`
		NewAddressesWithTrees []interface{} `json:"newAddressesWithTrees"`
	}{
		Hashes:                encoded,
		NewAddressesWithTrees: []interface{}{},
	}

	var resp struct {
		Value *jsonValidityProof `json:"value"`
	}
	if err := c.call(ctx, &resp, "getValidityProof", req); err != nil {
		return nil, errors.Wrap(err, "getValidityProof() failed to send request")
	}
	if resp.Value == nil {
		return nil, errors.New("getValidityProof() returned no proof")
	}

	proof, err := resp.Value.toValidityProof()
	if err != nil {
		return nil, errors.Wrap(err, "invalid validity proof in response")
	}

	if len(proof.RootIndices) != len(hashes) || len(proof.LeafIndices) != len(hashes) || len(proof.MerkleTrees) != len(hashes) {
		return nil, ErrProofMismatch
	}
	if len(proof.Leaves) > 0 {
		if len(proof.Leaves) != len(hashes) {
			return nil, ErrProofMismatch
		}
		for i := range hashes {
			if proof.Leaves[i] != hashes[i] {
				return nil, errors.Wrapf(ErrProofMismatch, "leaf %d does not match requested hash", i)
			}
		}
	}

	return proof, nil
}

func (c *client) GetIndexerSlot(ctx context.Context) (slot uint64, err error) {
	if err := c.call(ctx, &slot, "getIndexerSlot"); err != nil {
		return 0, errors.Wrap(err, "getIndexerSlot() failed to send request")
	}
	return slot, nil
}
