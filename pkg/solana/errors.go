package solana

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/ybbus/jsonrpc"
)

const (
	// Reference: https://github.com/anza-xyz/agave/blob/master/rpc-client-api/src/custom_error.rs
	rpcBlockNotAvailableCode        = -32004
	rpcNodeUnhealthyCode            = -32005
	rpcMinContextSlotNotReachedCode = -32016
)

var (
	// ErrMinContextSlotNotReached is returned when the RPC node has not yet
	// processed the slot the request was bound to.
	ErrMinContextSlotNotReached = errors.New("minimum context slot has not been reached")

	// ErrBlockhashNotFound is returned when the node does not recognize the
	// recent blockhash used by a transaction.
	ErrBlockhashNotFound = errors.New("blockhash not found")
)

// TransactionErrorKey is the string key returned in a transaction error.
//
// Source: https://github.com/solana-labs/solana/blob/fc2bf2d3b669d1c6655ae48b0a05f470938f3676/sdk/src/transaction/mod.rs#L37
type TransactionErrorKey string

const (
	TransactionErrorAccountInUse            TransactionErrorKey = "AccountInUse"
	TransactionErrorAccountNotFound         TransactionErrorKey = "AccountNotFound"
	TransactionErrorInsufficientFundsForFee TransactionErrorKey = "InsufficientFundsForFee"
	TransactionErrorDuplicateSignature      TransactionErrorKey = "DuplicateSignature"
	TransactionErrorBlockhashNotFound       TransactionErrorKey = "BlockhashNotFound"
	TransactionErrorInstructionError        TransactionErrorKey = "InstructionError"
	TransactionErrorSignatureFailure        TransactionErrorKey = "SignatureFailure"
	TransactionErrorSanitizeFailure         TransactionErrorKey = "SanitizeFailure"
	TransactionErrorAlreadyProcessed        TransactionErrorKey = "AlreadyProcessed"
)

// InstructionErrorKey is the string keys returned in an instruction error.
//
// Source: https://github.com/solana-labs/solana/blob/4e2754341514cd181ae3f373cc2548bd22e918b8/sdk/program/src/instruction.rs#L23
type InstructionErrorKey string

const (
	InstructionErrorGenericError             InstructionErrorKey = "GenericError"
	InstructionErrorInvalidArgument          InstructionErrorKey = "InvalidArgument"
	InstructionErrorInvalidInstructionData   InstructionErrorKey = "InvalidInstructionData"
	InstructionErrorInsufficientFunds        InstructionErrorKey = "InsufficientFunds"
	InstructionErrorMissingRequiredSignature InstructionErrorKey = "MissingRequiredSignature"
	InstructionErrorNotEnoughAccountKeys     InstructionErrorKey = "NotEnoughAccountKeys"
	InstructionErrorComputationalBudget      InstructionErrorKey = "ComputationalBudgetExceeded"
	InstructionErrorCustom                   InstructionErrorKey = "Custom"
)

// CustomError is the numerical error returned by a non-system program.
type CustomError int

func (c CustomError) Error() string {
	return fmt.Sprintf("custom program error: %#x", int(c))
}

// InstructionError indicates an instruction returned an error in a transaction.
type InstructionError struct {
	Index int
	Err   error
}

func (i InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %v", i.Index, i.Err)
}

func (i InstructionError) ErrorKey() InstructionErrorKey {
	if i.Err == nil {
		return ""
	}
	if i.CustomError() != nil {
		return InstructionErrorCustom
	}
	return InstructionErrorKey(i.Err.Error())
}

func (i InstructionError) CustomError() *CustomError {
	if ce, ok := i.Err.(CustomError); ok {
		return &ce
	}
	return nil
}

func (i InstructionError) raw() interface{} {
	if ce := i.CustomError(); ce != nil {
		return []interface{}{float64(i.Index), map[string]interface{}{string(InstructionErrorCustom): float64(*ce)}}
	}
	return []interface{}{float64(i.Index), i.Err.Error()}
}

func parseInstructionError(v interface{}) (*InstructionError, error) {
	values, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("unexpected instruction error format")
	}
	if len(values) != 2 {
		return nil, errors.Errorf("unexpected entries in InstructionError tuple: %d", len(values))
	}

	index, err := parseJSONNumber(values[0])
	if err != nil {
		return nil, err
	}

	e := &InstructionError{Index: index}
	switch t := values[1].(type) {
	case string:
		e.Err = errors.New(t)
	case map[string]interface{}:
		k, v, ok := singleEntry(t)
		if !ok {
			return nil, errors.Errorf("invalid instruction result size: %d", len(t))
		}
		if k != string(InstructionErrorCustom) {
			e.Err = errors.New(k)
			break
		}

		code, err := parseJSONNumber(v)
		if err != nil {
			return nil, errors.Wrap(err, "invalid custom error code")
		}
		e.Err = CustomError(code)
	default:
		return nil, errors.Errorf("unhandled instruction error type: %T", values[1])
	}

	return e, nil
}

// TransactionError contains the transaction error details.
type TransactionError struct {
	key              TransactionErrorKey
	instructionError *InstructionError
	raw              interface{}
}

func NewTransactionError(key TransactionErrorKey) *TransactionError {
	return &TransactionError{
		key: key,
		raw: string(key),
	}
}

// NewInstructionTransactionError wraps an instruction failure as a transaction error
func NewInstructionTransactionError(index int, err error) *TransactionError {
	ie := &InstructionError{Index: index, Err: err}
	return &TransactionError{
		key:              TransactionErrorInstructionError,
		instructionError: ie,
		raw: map[string]interface{}{
			string(TransactionErrorInstructionError): ie.raw(),
		},
	}
}

// ParseRPCError extracts the transaction error embedded in a preflight failure.
func ParseRPCError(err *jsonrpc.RPCError) (*TransactionError, error) {
	if err == nil {
		return nil, nil
	}

	data, ok := err.Data.(map[string]interface{})
	if !ok {
		return nil, errors.New("expected map type")
	}

	if txErr, ok := data["err"]; ok && txErr != nil {
		return ParseTransactionError(txErr)
	}
	return nil, nil
}

// ParseTransactionError parses the JSON error returned from the "err" field in various
// RPC methods and fields.
func ParseTransactionError(raw interface{}) (*TransactionError, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return &TransactionError{key: TransactionErrorKey(t), raw: raw}, nil
	case map[string]interface{}:
		k, v, ok := singleEntry(t)
		if !ok {
			return nil, errors.Errorf("invalid transaction result size: %d", len(t))
		}
		if k != string(TransactionErrorInstructionError) {
			return &TransactionError{key: TransactionErrorKey(k), raw: raw}, nil
		}

		ie, err := parseInstructionError(v)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse instruction error")
		}
		return &TransactionError{
			key:              TransactionErrorInstructionError,
			instructionError: ie,
			raw:              raw,
		}, nil
	default:
		return nil, errors.Errorf("unhandled error type: %T", raw)
	}
}

func (t TransactionError) Error() string {
	if t.instructionError != nil {
		return t.instructionError.Error()
	}
	return string(t.key)
}

func (t TransactionError) ErrorKey() TransactionErrorKey {
	return t.key
}

func (t TransactionError) InstructionError() *InstructionError {
	return t.instructionError
}

func (t TransactionError) JSONString() (string, error) {
	b, err := json.Marshal(t.raw)
	return string(b), err
}

// classifySubmitError maps RPC failures from sendTransaction onto the errors
// callers are expected to act upon.
func classifySubmitError(err error) error {
	rpcErr, ok := errors.Cause(err).(*jsonrpc.RPCError)
	if !ok {
		return err
	}

	if rpcErr.Code == rpcMinContextSlotNotReachedCode {
		return errors.Wrap(ErrMinContextSlotNotReached, rpcErr.Message)
	}

	txErr, parseErr := ParseRPCError(rpcErr)
	if parseErr == nil && txErr != nil {
		if txErr.ErrorKey() == TransactionErrorBlockhashNotFound {
			return errors.Wrap(ErrBlockhashNotFound, txErr.Error())
		}
		return txErr
	}

	if strings.Contains(strings.ToLower(rpcErr.Message), "blockhash not found") {
		return errors.Wrap(ErrBlockhashNotFound, rpcErr.Message)
	}
	return err
}

func singleEntry(m map[string]interface{}) (string, interface{}, bool) {
	if len(m) != 1 {
		return "", nil, false
	}
	for k, v := range m {
		return k, v, true
	}
	return "", nil, false
}

func parseJSONNumber(v interface{}) (int, error) {
	switch t := v.(type) {
	case json.Number:
		index, err := t.Int64()
		if err != nil {
			return 0, errors.Errorf("non int64 value: %v", v)
		}
		return int(index), nil
	case string:
		index, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, errors.Errorf("non numeric value: %v", v)
		}
		return int(index), nil
	case float64:
		return int(t), nil
	}

	return 0, errors.Errorf("non numeric value: %v", v)
}
