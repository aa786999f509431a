package balance

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/lamports"
	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/photon"
	"github.com/code-payments/shield-server/pkg/solana"
)

const (
	metricsStructName = "balance.inspector"
)

var (
	ErrBalanceNotRepresentable = errors.New("balance exceeds the representable lamport range")

	maxLamports = decimal.NewFromUint64(^uint64(0))
)

// Inspector reports shielded balances by summing the compressed accounts an
// address owns. It never mutates state.
type Inspector struct {
	log    *logrus.Entry
	photon photon.Client
}

func NewInspector(photonClient photon.Client) *Inspector {
	return &Inspector{
		log:    logrus.StandardLogger().WithField("type", "shield/balance/inspector"),
		photon: photonClient,
	}
}

// CheckPrivateBalance returns the shielded balance of address in SOL with
// exactly four decimal places, or nil if the address is invalid or the balance
// could not be fetched.
func (i *Inspector) CheckPrivateBalance(ctx context.Context, address string) *string {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "CheckPrivateBalance")
	defer tracer.End()

	log := i.log.WithFields(logrus.Fields{
		"method":  "CheckPrivateBalance",
		"address": address,
	})

	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		log.WithError(err).Debug("invalid address")
		return nil
	}

	total, err := i.fetchTotal(ctx, owner)
	if err != nil {
		tracer.OnError(err)
		log.WithError(err).Warn("failure fetching compressed accounts")
		return nil
	}

	formatted := lamports.FormatSol(total)
	return &formatted
}

// GetPrivateBalance returns the shielded lamports owned by owner
func (i *Inspector) GetPrivateBalance(ctx context.Context, owner ed25519.PublicKey) (uint64, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "GetPrivateBalance")
	defer tracer.End()

	total, err := i.fetchTotal(ctx, owner)
	if err != nil {
		tracer.OnError(err)
		return 0, err
	}

	if total.GreaterThan(maxLamports) {
		return 0, ErrBalanceNotRepresentable
	}
	return total.BigInt().Uint64(), nil
}

// Many small accounts can exceed a uint64, so the sum is arbitrary precision
func (i *Inspector) fetchTotal(ctx context.Context, owner ed25519.PublicKey) (decimal.Decimal, error) {
	accounts, err := i.photon.GetCompressedAccountsByOwner(ctx, owner)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "error getting compressed accounts for %s", base58.Encode(owner))
	}

	values := make([]uint64, len(accounts))
	for i, account := range accounts {
		values[i] = account.Lamports
	}
	return lamports.Sum(values...), nil
}
