package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/lamports"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	"github.com/code-payments/shield-server/pkg/shield/transfer"
)

func newBalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the shielded balance of an address, defaulting to the keypair's",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *deps) error {
				var address string
				if len(args) > 0 {
					address = args[0]
				} else {
					keypair, err := loadWallet()
					if err != nil {
						return err
					}
					address = keypair.String()
				}

				balance := d.pipeline.CheckPrivateBalance(ctx, address)
				if balance == nil {
					return errors.Errorf("shielded balance of %s is unavailable", address)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s SOL\n", *balance)
				return nil
			})
		},
	}
}

// solAmount is an --amount flag value. Amounts with more precision than a
// lamport are rejected at parse time.
type solAmount uint64

func (a *solAmount) Set(val string) error {
	value, err := lamports.StrToLamports(val)
	if err != nil {
		return err
	}
	*a = solAmount(value)
	return nil
}

func (a *solAmount) String() string {
	return lamports.StrFromLamports(uint64(*a))
}

func (a *solAmount) Type() string {
	return "sol"
}

func (a *solAmount) Sol() float64 {
	return lamports.ToSol(uint64(*a))
}

func newSendCommand() *cobra.Command {
	var amount solAmount
	var recipient string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Privately send SOL from the keypair's visible balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keypair, err := loadWallet()
			if err != nil {
				return err
			}

			return withDeps(cmd, func(ctx context.Context, d *deps) error {
				res, err := d.pipeline.SendPrivateTransaction(ctx, transfer.Request{
					Amount:           amount.Sol(),
					RecipientAddress: recipient,
					Wallet:           keypair,
					Status:           printStatus(cmd.ErrOrStderr()),
				})
				if err != nil {
					return explain(err)
				}

				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	cmd.Flags().Var(&amount, "amount", "amount in SOL")
	cmd.Flags().StringVar(&recipient, "to", "", "recipient address")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newUnshieldCommand() *cobra.Command {
	var amount solAmount

	cmd := &cobra.Command{
		Use:   "unshield",
		Short: "Decompress shielded SOL back into the keypair's visible balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keypair, err := loadWallet()
			if err != nil {
				return err
			}

			return withDeps(cmd, func(ctx context.Context, d *deps) error {
				sig, err := d.pipeline.UnshieldSolWithStatus(ctx, amount.Sol(), keypair, printStatus(cmd.ErrOrStderr()))
				if err != nil {
					return explain(err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "signature: %s\n", sig.String())
				return nil
			})
		},
	}

	cmd.Flags().Var(&amount, "amount", "amount in SOL")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <transfer-id>",
		Short: "Retry the transfer phase of a transfer that failed after compression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keypair, err := loadWallet()
			if err != nil {
				return err
			}

			return withDeps(cmd, func(ctx context.Context, d *deps) error {
				res, err := d.pipeline.ResumeTransfer(ctx, args[0], keypair, printStatus(cmd.ErrOrStderr()))
				if err != nil {
					return explain(err)
				}

				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit uint64
	var cursor string
	var order string

	cmd := &cobra.Command{
		Use:   "history [address]",
		Short: "List journaled transfers started by an address, defaulting to the keypair's",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sender string
			if len(args) > 0 {
				sender = args[0]
			} else {
				keypair, err := loadWallet()
				if err != nil {
					return err
				}
				sender = keypair.String()
			}

			direction, err := query.ToOrdering(order)
			if err != nil {
				return errors.Wrap(err, "invalid order")
			}
			opts := []query.Option{query.WithLimit(limit), query.WithDirection(direction)}
			if len(cursor) > 0 {
				parsed, err := query.CursorFromBase58(cursor)
				if err != nil {
					return err
				}
				opts = append(opts, query.WithCursor(parsed))
			}

			return withDeps(cmd, func(ctx context.Context, d *deps) error {
				records, err := d.pipeline.GetTransferHistory(ctx, sender, opts...)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), records)
			})
		},
	}

	cmd.Flags().Uint64Var(&limit, "limit", 20, "maximum number of transfers")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor returned by a previous page")
	cmd.Flags().StringVar(&order, "order", "desc", "asc or desc")
	return cmd
}

func printStatus(w io.Writer) transfer.StatusFunc {
	return func(status string) {
		fmt.Fprintln(w, status)
	}
}

func printResult(w io.Writer, res *transfer.Result) {
	fmt.Fprintf(w, "transfer id:        %s\n", res.TransferId)
	fmt.Fprintf(w, "compress signature: %s\n", res.CompressSignature.String())
	fmt.Fprintf(w, "transfer signature: %s\n", res.Signature.String())
	if res.SenderPrivateBalance != nil {
		fmt.Fprintf(w, "shielded balance:   %s SOL\n", *res.SenderPrivateBalance)
	}
}

func newPendingCommand() *cobra.Command {
	var limit uint64
	var cursor string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List failed transfers whose funds are shielded and can be resumed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []query.Option{query.WithLimit(limit)}
			if len(cursor) > 0 {
				parsed, err := query.CursorFromBase58(cursor)
				if err != nil {
					return err
				}
				opts = append(opts, query.WithCursor(parsed))
			}

			return withDeps(cmd, func(ctx context.Context, d *deps) error {
				records, next, err := d.pipeline.GetResumableTransfers(ctx, opts...)
				if err != nil {
					return err
				}
				if err := printRecords(cmd.OutOrStdout(), records); err != nil {
					return err
				}
				if len(next) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "next page: --cursor %s\n", next.ToBase58())
				}
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&limit, "limit", 20, "maximum number of failed transfers to scan")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor returned by a previous page")
	return cmd
}

type recordOutput struct {
	TransferId        string  `json:"transfer_id"`
	Kind              string  `json:"kind"`
	Recipient         string  `json:"recipient"`
	Lamports          uint64  `json:"lamports"`
	State             string  `json:"state"`
	Compressed        bool    `json:"compressed"`
	CompressSignature *string `json:"compress_signature,omitempty"`
	TransferSignature *string `json:"transfer_signature,omitempty"`
	ResumedFrom       *string `json:"resumed_from,omitempty"`
	FailureReason     *string `json:"failure_reason,omitempty"`
	CreatedAt         string  `json:"created_at"`
	Cursor            string  `json:"cursor"`
}

func printRecords(w io.Writer, records []*journal.Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	for _, record := range records {
		err := encoder.Encode(&recordOutput{
			TransferId:        record.TransferId,
			Kind:              record.Kind.String(),
			Recipient:         record.Recipient,
			Lamports:          record.Lamports,
			State:             record.State.String(),
			Compressed:        record.Compressed,
			CompressSignature: record.CompressSignature,
			TransferSignature: record.TransferSignature,
			ResumedFrom:       record.ResumedFrom,
			FailureReason:     record.FailureReason,
			CreatedAt:         record.CreatedAt.UTC().Format(time.RFC3339),
			Cursor:            query.ToCursor(record.Id).ToBase58(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// explain adds recovery instructions to partial failures
func explain(err error) error {
	var phaseErr *transfer.PhaseError
	if !errors.As(err, &phaseErr) {
		return err
	}

	if phaseErr.Unconfirmed {
		return errors.Wrapf(
			err,
			"the transfer may have been sent, run `shieldctl resume %s` to check once its blockhash expires",
			phaseErr.TransferId,
		)
	}

	if !phaseErr.Compressed {
		return err
	}
	return errors.Wrapf(
		err,
		"funds are shielded but were not sent, run `shieldctl resume %s` or `shieldctl unshield`",
		phaseErr.TransferId,
	)
}
