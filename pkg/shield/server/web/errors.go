package web

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/shield/confirm"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	"github.com/code-payments/shield-server/pkg/shield/proof"
	"github.com/code-payments/shield-server/pkg/shield/selection"
	"github.com/code-payments/shield-server/pkg/shield/transfer"
)

var errInvalidRequest = errors.New("invalid request")

const (
	resultOK                  = "OK"
	resultInvalidRequest      = "INVALID_REQUEST"
	resultWalletNotConnected  = "WALLET_NOT_CONNECTED"
	resultInvalidAmount       = "INVALID_AMOUNT"
	resultInvalidRecipient    = "INVALID_RECIPIENT"
	resultInsufficientBalance = "INSUFFICIENT_BALANCE"
	resultNotFound            = "NOT_FOUND"
	resultNotResumable        = "NOT_RESUMABLE"
	resultWalletMismatch      = "WALLET_MISMATCH"
	resultAlreadyTransferred  = "ALREADY_TRANSFERRED"
	resultTransferPending     = "TRANSFER_PENDING"
	resultOutcomeUnknown      = "OUTCOME_UNKNOWN"
	resultJournalDisabled     = "JOURNAL_DISABLED"
	resultBlockhashExpired    = "BLOCKHASH_EXPIRED"
	resultTransactionFailed   = "TRANSACTION_FAILED"
	resultProofUnavailable    = "PROOF_UNAVAILABLE"
	resultIndexerBehind       = "INDEXER_BEHIND"
	resultInternal            = "INTERNAL"
)

type apiError struct {
	Status int    `json:"-"`
	Result string `json:"result"`
	Error  string `json:"error"`

	// Set once a run has started
	Phase       string `json:"phase,omitempty"`
	TransferId  string `json:"transfer_id,omitempty"`
	Compressed  bool   `json:"compressed,omitempty"`
	Unconfirmed bool   `json:"unconfirmed,omitempty"`
}

// Evaluated in order, so more specific errors come first
var errorMappings = []struct {
	target error
	status int
	result string
}{
	{errInvalidRequest, http.StatusBadRequest, resultInvalidRequest},
	{query.ErrQueryNotSupported, http.StatusBadRequest, resultInvalidRequest},
	{transfer.ErrWalletNotConnected, http.StatusServiceUnavailable, resultWalletNotConnected},
	{transfer.ErrInvalidAmount, http.StatusBadRequest, resultInvalidAmount},
	{transfer.ErrInvalidRecipient, http.StatusBadRequest, resultInvalidRecipient},
	{selection.ErrInsufficientBalance, http.StatusUnprocessableEntity, resultInsufficientBalance},
	{journal.ErrNotFound, http.StatusNotFound, resultNotFound},
	{transfer.ErrNotResumable, http.StatusConflict, resultNotResumable},
	{transfer.ErrWalletMismatch, http.StatusForbidden, resultWalletMismatch},
	{transfer.ErrAlreadyTransferred, http.StatusConflict, resultAlreadyTransferred},
	{transfer.ErrTransferPending, http.StatusConflict, resultTransferPending},
	{confirm.ErrOutcomeUnknown, http.StatusGatewayTimeout, resultOutcomeUnknown},
	{transfer.ErrJournalDisabled, http.StatusNotImplemented, resultJournalDisabled},
	{confirm.ErrBlockhashExpired, http.StatusGatewayTimeout, resultBlockhashExpired},
	{confirm.ErrTransactionFailed, http.StatusBadGateway, resultTransactionFailed},
	{proof.ErrProofUnavailable, http.StatusServiceUnavailable, resultProofUnavailable},
	{transfer.ErrIndexerBehind, http.StatusServiceUnavailable, resultIndexerBehind},
}

func toAPIError(err error) *apiError {
	res := &apiError{
		Status: http.StatusInternalServerError,
		Result: resultInternal,
		Error:  err.Error(),
	}

	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			res.Status = mapping.status
			res.Result = mapping.result
			break
		}
	}

	var phaseErr *transfer.PhaseError
	if errors.As(err, &phaseErr) {
		res.Phase = string(phaseErr.Phase)
		res.TransferId = phaseErr.TransferId
		res.Compressed = phaseErr.Compressed
		res.Unconfirmed = phaseErr.Unconfirmed
	}

	return res
}
