package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureStatus(t *testing.T) {
	zero, one := 0, 1

	testCases := []struct {
		s         SignatureStatus
		confirmed bool
		finalized bool
	}{
		{
			s: SignatureStatus{Slot: 10, Confirmations: &zero},
		},
		{
			s: SignatureStatus{Slot: 10, Confirmations: &zero, ConfirmationStatus: confirmationStatusProcessed},
		},
		{
			s:         SignatureStatus{Slot: 10, Confirmations: &one},
			confirmed: true,
		},
		{
			s:         SignatureStatus{Slot: 10, Confirmations: &zero, ConfirmationStatus: confirmationStatusConfirmed},
			confirmed: true,
		},
		{
			s:         SignatureStatus{Slot: 10, Confirmations: &zero, ConfirmationStatus: confirmationStatusFinalized},
			confirmed: true,
			finalized: true,
		},
		{
			s:         SignatureStatus{Slot: 10},
			confirmed: true,
			finalized: true,
		},
	}

	for i, tc := range testCases {
		assert.Equal(t, tc.confirmed, tc.s.Confirmed(), i)
		assert.Equal(t, tc.finalized, tc.s.Finalized(), i)
		assert.True(t, tc.s.Reached(CommitmentProcessed), i)
		assert.Equal(t, tc.confirmed, tc.s.Reached(CommitmentConfirmed), i)
		assert.Equal(t, tc.finalized, tc.s.Reached(CommitmentFinalized), i)
	}
}

func TestCommitmentFromString(t *testing.T) {
	c, err := CommitmentFromString("confirmed")
	require.NoError(t, err)
	assert.Equal(t, CommitmentConfirmed, c)

	_, err = CommitmentFromString("max")
	assert.Error(t, err)
}

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     int               `json:"id"`
}

type rpcServer struct {
	sync.Mutex
	requests []rpcRequest
	handler  func(req rpcRequest) (interface{}, map[string]interface{})
}

func newTestClient(t *testing.T, handler func(req rpcRequest) (interface{}, map[string]interface{})) (Client, *rpcServer) {
	s := &rpcServer{handler: handler}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		s.Lock()
		s.requests = append(s.requests, req)
		s.Unlock()

		result, rpcErr := s.handler(req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)

	return New(server.URL, nil), s
}

func TestClient_GetLatestBlockhashAndContext(t *testing.T) {
	var expected Blockhash
	for i := range expected {
		expected[i] = byte(i)
	}

	client, server := newTestClient(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1234},
			"value": map[string]interface{}{
				"blockhash":            base58.Encode(expected[:]),
				"lastValidBlockHeight": 5678,
			},
		}, nil
	})

	bh, err := client.GetLatestBlockhashAndContext(context.Background(), CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, expected, bh.Blockhash)
	assert.EqualValues(t, 1234, bh.Slot)
	assert.EqualValues(t, 5678, bh.LastValidBlockHeight)

	require.Len(t, server.requests, 1)
	assert.Equal(t, "getLatestBlockhash", server.requests[0].Method)
	assert.JSONEq(t, `{"commitment":"confirmed"}`, string(server.requests[0].Params[0]))
}

func TestClient_GetBlockHeight(t *testing.T) {
	client, server := newTestClient(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return 99, nil
	})

	height, err := client.GetBlockHeight(context.Background(), CommitmentConfirmed, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 99, height)
	assert.JSONEq(t, `{"commitment":"confirmed","minContextSlot":42}`, string(server.requests[0].Params[0]))
}

func TestClient_SubmitTransaction(t *testing.T) {
	keys := generateKeys(t, 2)
	txn := NewTransaction(public(keys[0]), NewInstruction(public(keys[1]), []byte{1}))
	require.NoError(t, txn.Sign(keys[0]))

	var attempt int
	client, server := newTestClient(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		attempt++
		switch attempt {
		case 1:
			return nil, map[string]interface{}{
				"code":    rpcMinContextSlotNotReachedCode,
				"message": "Minimum context slot has not been reached",
			}
		case 2:
			return nil, map[string]interface{}{
				"code":    -32002,
				"message": "Transaction simulation failed: Blockhash not found",
				"data":    map[string]interface{}{"err": "BlockhashNotFound"},
			}
		default:
			return txn.Signature().String(), nil
		}
	})

	opts := SubmitOptions{PreflightCommitment: CommitmentConfirmed, MinContextSlot: 77}

	_, err := client.SubmitTransaction(context.Background(), txn, opts)
	assert.True(t, errors.Is(err, ErrMinContextSlotNotReached))

	_, err = client.SubmitTransaction(context.Background(), txn, opts)
	assert.True(t, errors.Is(err, ErrBlockhashNotFound))

	sig, err := client.SubmitTransaction(context.Background(), txn, opts)
	require.NoError(t, err)
	assert.Equal(t, txn.Signature(), sig)

	require.Len(t, server.requests, 3)
	for _, req := range server.requests {
		assert.Equal(t, "sendTransaction", req.Method)
		require.Len(t, req.Params, 2)

		var encoded string
		require.NoError(t, json.Unmarshal(req.Params[0], &encoded))
		decoded, err := base58.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, txn.Marshal(), decoded)

		assert.JSONEq(t, `{"encoding":"base58","skipPreflight":false,"preflightCommitment":"confirmed","minContextSlot":77}`, string(req.Params[1]))
	}
}

func TestClient_GetSignatureStatuses(t *testing.T) {
	client, _ := newTestClient(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 10},
			"value": []interface{}{
				nil,
				map[string]interface{}{
					"slot":               9,
					"confirmations":      nil,
					"confirmationStatus": "finalized",
					"err":                nil,
				},
				map[string]interface{}{
					"slot":               8,
					"confirmations":      2,
					"confirmationStatus": "confirmed",
					"err":                map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 6}}},
				},
			},
		}, nil
	})

	statuses, err := client.GetSignatureStatuses(context.Background(), make([]Signature, 3))
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	assert.Nil(t, statuses[0])

	require.NotNil(t, statuses[1])
	assert.True(t, statuses[1].Finalized())
	assert.Nil(t, statuses[1].ErrorResult)

	require.NotNil(t, statuses[2])
	assert.True(t, statuses[2].Confirmed())
	require.NotNil(t, statuses[2].ErrorResult)
	assert.Equal(t, CustomError(6), *statuses[2].ErrorResult.InstructionError().CustomError())
}

func TestClient_GetBalance(t *testing.T) {
	client, server := newTestClient(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value":   1_000_000_001,
		}, nil
	})

	keys := generateKeys(t, 1)
	balance, err := client.GetBalance(context.Background(), public(keys[0]), CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000_001, balance)

	var account string
	require.NoError(t, json.Unmarshal(server.requests[0].Params[0], &account))
	assert.Equal(t, base58.Encode(public(keys[0])), account)
}
