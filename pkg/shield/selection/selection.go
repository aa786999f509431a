package selection

import (
	"bytes"
	"math/bits"
	"sort"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/photon"
)

const (
	// MaxInputAccounts is the number of compressed accounts a single
	// validity proof can cover.
	MaxInputAccounts = 4
)

var (
	ErrInsufficientBalance = errors.New("insufficient shielded balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrTooManyInputs       = errors.New("amount requires too many input accounts")
	ErrLamportOverflow     = errors.New("selected lamports overflow")
)

// Total sums the lamports across accounts, saturating at the max uint64
func Total(accounts []*photon.CompressedAccount) uint64 {
	var total uint64
	for _, account := range accounts {
		if account == nil {
			continue
		}

		sum, carry := bits.Add64(total, account.Lamports, 0)
		if carry != 0 {
			return ^uint64(0)
		}
		total = sum
	}
	return total
}

// Select returns the fewest accounts whose lamports cover target, along with
// their sum, using at most MaxInputAccounts inputs.
func Select(accounts []*photon.CompressedAccount, target uint64) ([]*photon.CompressedAccount, uint64, error) {
	return SelectWithLimit(accounts, target, MaxInputAccounts)
}

// SelectWithLimit is Select with a custom input limit.
//
// Accounts are taken largest first, which yields a minimal cardinality
// selection since the k largest accounts have the largest sum of any k
// accounts. Equal lamport values are ordered by ascending hash so the result
// is deterministic regardless of input order. Accounts are never split; any
// excess is the caller's change.
func SelectWithLimit(accounts []*photon.CompressedAccount, target uint64, maxInputs int) ([]*photon.CompressedAccount, uint64, error) {
	if target == 0 {
		return nil, 0, ErrInvalidAmount
	}

	available := Total(accounts)
	if available < target {
		return nil, 0, errors.Wrapf(ErrInsufficientBalance, "requested %d lamports, available %d", target, available)
	}

	candidates := make([]*photon.CompressedAccount, 0, len(accounts))
	for _, account := range accounts {
		if account != nil && account.Lamports > 0 {
			candidates = append(candidates, account)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Lamports != candidates[j].Lamports {
			return candidates[i].Lamports > candidates[j].Lamports
		}
		return bytes.Compare(candidates[i].Hash[:], candidates[j].Hash[:]) < 0
	})

	var selected []*photon.CompressedAccount
	var sum uint64
	for _, candidate := range candidates {
		next, carry := bits.Add64(sum, candidate.Lamports, 0)
		if carry != 0 {
			return nil, 0, ErrLamportOverflow
		}

		selected = append(selected, candidate)
		sum = next
		if sum >= target {
			break
		}
	}

	if len(selected) > maxInputs {
		return nil, 0, errors.Wrapf(ErrTooManyInputs, "%d accounts needed, at most %d allowed", len(selected), maxInputs)
	}
	return selected, sum, nil
}
