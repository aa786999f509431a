package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	pgutil "github.com/code-payments/shield-server/pkg/database/postgres"
	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
)

type store struct {
	db *sqlx.DB
}

func New(db *sql.DB) journal.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

func (s *store) Save(ctx context.Context, record *journal.Record) error {
	obj, err := toModel(record)
	if err != nil {
		return err
	}

	err = pgutil.ExecuteRetryable(func() error {
		return obj.dbSave(ctx, s.db)
	})
	if err != nil {
		return err
	}

	res := fromModel(obj)
	res.CopyTo(record)

	return nil
}

func (s *store) GetById(ctx context.Context, transferId string) (*journal.Record, error) {
	obj, err := dbGetById(ctx, s.db, transferId)
	if err != nil {
		return nil, err
	}
	return fromModel(obj), nil
}

func (s *store) GetAllBySender(ctx context.Context, sender string, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*journal.Record, error) {
	models, err := dbGetAllBySender(ctx, s.db, sender, cursor, limit, direction)
	if err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func (s *store) GetAllByState(ctx context.Context, state journal.State, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*journal.Record, error) {
	models, err := dbGetAllByState(ctx, s.db, state, cursor, limit, direction)
	if err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func fromModels(models []*model) []*journal.Record {
	res := make([]*journal.Record, len(models))
	for i, model := range models {
		res[i] = fromModel(model)
	}
	return res
}
