package proof

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/photon"
)

const (
	metricsStructName = "proof.requester"
)

var (
	ErrProofUnavailable = errors.New("validity proof unavailable")
	ErrNoInputs         = errors.New("at least one input account is required")
)

// UnavailableError matches ErrProofUnavailable and unwraps to the failure
// reported by the indexer or found validating its response
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return ErrProofUnavailable.Error() + ": " + e.Err.Error()
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrProofUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Requester obtains validity proofs for the compressed accounts a transaction
// consumes. Proofs are bound to a single tree snapshot, so failures are never
// retried here.
type Requester struct {
	log    *logrus.Entry
	photon photon.Client
}

func NewRequester(photonClient photon.Client) *Requester {
	return &Requester{
		log:    logrus.StandardLogger().WithField("type", "shield/proof/requester"),
		photon: photonClient,
	}
}

// Request returns a validity proof for accounts, in the order given
func (r *Requester) Request(ctx context.Context, accounts []*photon.CompressedAccount) (*photon.ValidityProof, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Request")
	defer tracer.End()

	start := time.Now()

	if len(accounts) == 0 {
		return nil, ErrNoInputs
	}

	hashes := make([]photon.Hash, len(accounts))
	for i, account := range accounts {
		hashes[i] = account.Hash
	}

	log := r.log.WithFields(logrus.Fields{
		"method": "Request",
		"inputs": len(hashes),
	})

	proof, err := r.photon.GetValidityProof(ctx, hashes)
	if err == nil {
		err = validate(accounts, proof)
	}
	metrics.ObservePhase("proof", start, err)
	if err != nil {
		tracer.OnError(err)
		log.WithError(err).Warn("failure requesting validity proof")
		return nil, &UnavailableError{Err: err}
	}

	log.WithField("root_index", proof.RootIndices[0]).Debug("validity proof obtained")
	return proof, nil
}

func validate(accounts []*photon.CompressedAccount, proof *photon.ValidityProof) error {
	if proof == nil || proof.CompressedProof == nil {
		return errors.New("proof missing from response")
	}

	n := len(accounts)
	if len(proof.RootIndices) != n || len(proof.LeafIndices) != n || len(proof.MerkleTrees) != n || len(proof.Leaves) != n {
		return errors.Errorf("expected proof metadata for %d accounts", n)
	}

	for i, account := range accounts {
		if proof.Leaves[i] != account.Hash {
			return errors.Errorf("proof leaf %d does not match %s", i, account.Hash.String())
		}
		if proof.LeafIndices[i] != account.LeafIndex {
			return errors.Errorf("proof leaf index %d does not match account leaf index %d", proof.LeafIndices[i], account.LeafIndex)
		}
		if !bytes.Equal(proof.MerkleTrees[i], account.Tree) {
			return errors.Errorf("proof tree for %s does not match account tree", account.Hash.String())
		}
	}
	return nil
}
