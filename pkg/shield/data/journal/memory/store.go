package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
)

type ById []*journal.Record

func (a ById) Len() int           { return len(a) }
func (a ById) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ById) Less(i, j int) bool { return a[i].Id < a[j].Id }

type store struct {
	mu      sync.RWMutex
	records []*journal.Record
	last    uint64
}

func New() journal.Store {
	return &store{}
}

func (s *store) Save(_ context.Context, data *journal.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.findByTransferId(data.TransferId); item != nil {
		if item.Version != data.Version {
			return journal.ErrStaleVersion
		}

		data.Version++

		cloned := data.Clone()
		item.CompressSignature = cloned.CompressSignature
		item.TransferSignature = cloned.TransferSignature
		item.LastValidBlockHeight = cloned.LastValidBlockHeight
		item.Compressed = cloned.Compressed
		item.State = cloned.State
		item.FailureReason = cloned.FailureReason
		item.Version = cloned.Version

		data.Id = item.Id
		data.CreatedAt = item.CreatedAt
	} else {
		s.last++
		data.Id = s.last
		if data.CreatedAt.IsZero() {
			data.CreatedAt = time.Now()
		}
		data.Version++

		c := data.Clone()
		s.records = append(s.records, &c)
	}

	return nil
}

func (s *store) GetById(_ context.Context, transferId string) (*journal.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item := s.findByTransferId(transferId)
	if item == nil {
		return nil, journal.ErrNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

func (s *store) GetAllBySender(_ context.Context, sender string, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*journal.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*journal.Record
	for _, item := range s.records {
		if item.Sender == sender {
			items = append(items, item)
		}
	}

	res := s.filter(items, cursor, limit, direction)
	if len(res) == 0 {
		return nil, journal.ErrNotFound
	}
	return cloneRecords(res), nil
}

func (s *store) GetAllByState(_ context.Context, state journal.State, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*journal.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*journal.Record
	for _, item := range s.records {
		if item.State == state {
			items = append(items, item)
		}
	}

	res := s.filter(items, cursor, limit, direction)
	if len(res) == 0 {
		return nil, journal.ErrNotFound
	}
	return cloneRecords(res), nil
}

func (s *store) findByTransferId(transferId string) *journal.Record {
	for _, item := range s.records {
		if item.TransferId == transferId {
			return item
		}
	}
	return nil
}

func (s *store) filter(items []*journal.Record, cursor query.Cursor, limit uint64, direction query.Ordering) []*journal.Record {
	var start uint64

	start = 0
	if direction == query.Descending {
		start = s.last + 1
	}
	if len(cursor) > 0 {
		start = cursor.ToUint64()
	}

	var res []*journal.Record
	for _, item := range items {
		if item.Id > start && direction == query.Ascending {
			res = append(res, item)
		}
		if item.Id < start && direction == query.Descending {
			res = append(res, item)
		}
	}

	if direction == query.Descending {
		sort.Sort(sort.Reverse(ById(res)))
	} else {
		sort.Sort(ById(res))
	}

	if limit > 0 && len(res) >= int(limit) {
		return res[:limit]
	}

	return res
}

func cloneRecords(items []*journal.Record) []*journal.Record {
	res := make([]*journal.Record, len(items))
	for i, item := range items {
		cloned := item.Clone()
		res[i] = &cloned
	}
	return res
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.last = 0
}
