package query

import "strconv"

const (
	DefaultPagingLimit = 100
	MaxPagingLimit     = 1000
)

// PaginateQuery appends cursor, ordering and limit clauses over the id column
// to a query of the form "SELECT ... WHERE (...)". The brackets are required.
//
// Example:
//
//	PaginateQuery("SELECT * FROM t WHERE (state = $1)", []interface{}{state}, cursor, 10, Ascending)
//	> "SELECT * FROM t WHERE (state = $1) AND id > $2 ORDER BY id ASC LIMIT $3"
func PaginateQuery(query string, opts []interface{}, cursor Cursor, limit uint64, direction Ordering) (string, []interface{}) {
	if len(cursor) > 0 {
		comparison := " > $"
		if direction == Descending {
			comparison = " < $"
		}

		opts = append(opts, cursor.ToUint64())
		query += " AND id" + comparison + strconv.Itoa(len(opts))
	}

	if direction == Descending {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}

	if limit > 0 {
		opts = append(opts, limit)
		query += " LIMIT $" + strconv.Itoa(len(opts))
	}

	return query, opts
}

// DefaultPaginationHandler applies opts over ascending, DefaultPagingLimit
// defaults, rejecting limits above MaxPagingLimit.
func DefaultPaginationHandler(opts ...Option) (*QueryOptions, error) {
	req := QueryOptions{
		Limit:     DefaultPagingLimit,
		SortBy:    Ascending,
		Supported: CanLimitResults | CanSortBy | CanQueryByCursor,
	}
	if err := req.Apply(opts...); err != nil {
		return nil, err
	}

	if req.Limit == 0 || req.Limit > MaxPagingLimit {
		return nil, ErrQueryNotSupported
	}
	if len(req.Cursor) > 0 && len(req.Cursor) != 8 {
		return nil, ErrQueryNotSupported
	}

	return &req, nil
}
