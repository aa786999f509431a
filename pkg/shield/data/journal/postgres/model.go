package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	pgutil "github.com/code-payments/shield-server/pkg/database/postgres"
	q "github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/pointer"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
)

const (
	tableName = "shield__core_transfer"

	allColumns = `id, transfer_id, kind, sender, recipient, lamports, compress_signature, transfer_signature, last_valid_block_height, is_compressed, resumed_from, state, failure_reason, version, created_at`
)

type model struct {
	Id                   sql.NullInt64  `db:"id"`
	TransferId           string         `db:"transfer_id"`
	Kind                 uint8          `db:"kind"`
	Sender               string         `db:"sender"`
	Recipient            string         `db:"recipient"`
	Lamports             uint64         `db:"lamports"`
	CompressSignature    sql.NullString `db:"compress_signature"`
	TransferSignature    sql.NullString `db:"transfer_signature"`
	LastValidBlockHeight uint64         `db:"last_valid_block_height"`
	IsCompressed         bool           `db:"is_compressed"`
	ResumedFrom          sql.NullString `db:"resumed_from"`
	State                uint8          `db:"state"`
	FailureReason        sql.NullString `db:"failure_reason"`
	Version              uint64         `db:"version"`
	CreatedAt            time.Time      `db:"created_at"`
}

func toNullString(value *string) sql.NullString {
	return sql.NullString{String: pointer.ValueOrDefault(value, ""), Valid: value != nil}
}

func fromNullString(value sql.NullString) *string {
	return pointer.IfValid(value.Valid, value.String)
}

func toModel(obj *journal.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = time.Now().UTC()
	}

	return &model{
		Id:                   sql.NullInt64{Int64: int64(obj.Id), Valid: true},
		TransferId:           obj.TransferId,
		Kind:                 uint8(obj.Kind),
		Sender:               obj.Sender,
		Recipient:            obj.Recipient,
		Lamports:             obj.Lamports,
		CompressSignature:    toNullString(obj.CompressSignature),
		TransferSignature:    toNullString(obj.TransferSignature),
		LastValidBlockHeight: obj.LastValidBlockHeight,
		IsCompressed:         obj.Compressed,
		ResumedFrom:          toNullString(obj.ResumedFrom),
		State:                uint8(obj.State),
		FailureReason:        toNullString(obj.FailureReason),
		Version:              obj.Version,
		CreatedAt:            obj.CreatedAt,
	}, nil
}

func fromModel(m *model) *journal.Record {
	return &journal.Record{
		Id:                   uint64(m.Id.Int64),
		TransferId:           m.TransferId,
		Kind:                 journal.Kind(m.Kind),
		Sender:               m.Sender,
		Recipient:            m.Recipient,
		Lamports:             m.Lamports,
		CompressSignature:    fromNullString(m.CompressSignature),
		TransferSignature:    fromNullString(m.TransferSignature),
		LastValidBlockHeight: m.LastValidBlockHeight,
		Compressed:           m.IsCompressed,
		ResumedFrom:          fromNullString(m.ResumedFrom),
		State:                journal.State(m.State),
		FailureReason:        fromNullString(m.FailureReason),
		Version:              m.Version,
		CreatedAt:            m.CreatedAt,
	}
}

func (m *model) dbSave(ctx context.Context, db *sqlx.DB) error {
	return pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		query := `INSERT INTO ` + tableName + `
			(transfer_id, kind, sender, recipient, lamports, compress_signature, transfer_signature, last_valid_block_height, is_compressed, resumed_from, state, failure_reason, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13 + 1, $14)

			ON CONFLICT (transfer_id)
			DO UPDATE
				SET compress_signature = $6, transfer_signature = $7, last_valid_block_height = $8, is_compressed = $9, state = $11, failure_reason = $12, version = ` + tableName + `.version + 1
				WHERE ` + tableName + `.transfer_id = $1 AND ` + tableName + `.version = $13

			RETURNING ` + allColumns

		err := tx.QueryRowxContext(
			ctx,
			query,
			m.TransferId,
			m.Kind,
			m.Sender,
			m.Recipient,
			m.Lamports,
			m.CompressSignature,
			m.TransferSignature,
			m.LastValidBlockHeight,
			m.IsCompressed,
			m.ResumedFrom,
			m.State,
			m.FailureReason,
			m.Version,
			m.CreatedAt,
		).StructScan(m)
		if err != nil {
			return pgutil.CheckNoRows(err, journal.ErrStaleVersion)
		}
		return nil
	})
}

func dbGetById(ctx context.Context, db *sqlx.DB, transferId string) (*model, error) {
	res := &model{}

	query := `SELECT ` + allColumns + `
		FROM ` + tableName + `
		WHERE transfer_id = $1
		LIMIT 1`

	err := db.GetContext(ctx, res, query, transferId)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, journal.ErrNotFound)
	}
	return res, nil
}

func dbGetAllBySender(ctx context.Context, db *sqlx.DB, sender string, cursor q.Cursor, limit uint64, direction q.Ordering) ([]*model, error) {
	res := []*model{}

	query := `SELECT ` + allColumns + `
		FROM ` + tableName + `
		WHERE (sender = $1)`

	opts := []interface{}{sender}
	query, opts = q.PaginateQuery(query, opts, cursor, limit, direction)

	err := db.SelectContext(ctx, &res, query, opts...)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, journal.ErrNotFound)
	}

	if len(res) == 0 {
		return nil, journal.ErrNotFound
	}
	return res, nil
}

func dbGetAllByState(ctx context.Context, db *sqlx.DB, state journal.State, cursor q.Cursor, limit uint64, direction q.Ordering) ([]*model, error) {
	res := []*model{}

	query := `SELECT ` + allColumns + `
		FROM ` + tableName + `
		WHERE (state = $1)`

	opts := []interface{}{state}
	query, opts = q.PaginateQuery(query, opts, cursor, limit, direction)

	err := db.SelectContext(ctx, &res, query, opts...)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, journal.ErrNotFound)
	}

	if len(res) == 0 {
		return nil, journal.ErrNotFound
	}
	return res, nil
}
