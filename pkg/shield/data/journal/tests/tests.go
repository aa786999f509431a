package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/pointer"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
)

func RunTests(t *testing.T, s journal.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s journal.Store){
		testRoundTrip,
		testUpdateHappyPath,
		testUpdateStaleRecord,
		testInvalidRecord,
		testGetAllBySender,
		testGetAllByState,
	} {
		tf(t, s)
		teardown()
	}
}

func testRoundTrip(t *testing.T, s journal.Store) {
	t.Run("testRoundTrip", func(t *testing.T) {
		ctx := context.Background()

		actual, err := s.GetById(ctx, "test_transfer_id")
		assert.Equal(t, journal.ErrNotFound, err)
		assert.Nil(t, actual)

		expected := &journal.Record{
			TransferId: "test_transfer_id",
			Kind:       journal.KindTransfer,

			Sender:    "test_sender",
			Recipient: "test_recipient",
			Lamports:  300_000_000,

			CompressSignature: pointer.String("test_compress_signature"),

			Compressed: true,

			State: journal.StateCompressConfirmed,

			CreatedAt: time.Now(),
		}
		require.NoError(t, s.Save(ctx, expected))
		assert.EqualValues(t, 1, expected.Id)
		assert.EqualValues(t, 1, expected.Version)

		actual, err = s.GetById(ctx, "test_transfer_id")
		require.NoError(t, err)
		assertEquivalentRecords(t, expected, actual)
		assert.EqualValues(t, 1, actual.Version)

		// Records handed back are independent copies
		*actual.CompressSignature = "mutated"
		actual, err = s.GetById(ctx, "test_transfer_id")
		require.NoError(t, err)
		assert.Equal(t, "test_compress_signature", *actual.CompressSignature)
	})
}

func testUpdateHappyPath(t *testing.T, s journal.Store) {
	t.Run("testUpdateHappyPath", func(t *testing.T) {
		ctx := context.Background()

		expected := &journal.Record{
			TransferId:  "test_transfer_id",
			Kind:        journal.KindResume,
			Sender:      "test_sender",
			Recipient:   "test_recipient",
			Lamports:    300_000_000,
			Compressed:  true,
			ResumedFrom: pointer.String("test_original_transfer_id"),
			State:       journal.StateIdle,
		}
		require.NoError(t, s.Save(ctx, expected))
		assert.EqualValues(t, 1, expected.Version)

		expected.State = journal.StateTransferring
		expected.TransferSignature = pointer.String("test_transfer_signature")
		expected.LastValidBlockHeight = 1_234
		require.NoError(t, s.Save(ctx, expected))
		assert.EqualValues(t, 1, expected.Id)
		assert.EqualValues(t, 2, expected.Version)

		expected.State = journal.StateFailed
		expected.FailureReason = pointer.String("blockhash expired before confirmation")
		require.NoError(t, s.Save(ctx, expected))
		assert.EqualValues(t, 3, expected.Version)

		actual, err := s.GetById(ctx, "test_transfer_id")
		require.NoError(t, err)
		assertEquivalentRecords(t, expected, actual)
		assert.EqualValues(t, 3, actual.Version)
	})
}

func testUpdateStaleRecord(t *testing.T, s journal.Store) {
	t.Run("testUpdateStaleRecord", func(t *testing.T) {
		ctx := context.Background()

		expected := &journal.Record{
			TransferId: "test_transfer_id",
			Kind:       journal.KindUnshield,
			Sender:     "test_sender",
			Recipient:  "test_sender",
			Lamports:   100,
			State:      journal.StateIdle,
		}
		require.NoError(t, s.Save(ctx, expected))

		stale := expected.Clone()

		expected.State = journal.StateSelecting
		require.NoError(t, s.Save(ctx, expected))

		stale.State = journal.StateFailed
		stale.FailureReason = pointer.String("stale")
		assert.Equal(t, journal.ErrStaleVersion, s.Save(ctx, &stale))

		actual, err := s.GetById(ctx, "test_transfer_id")
		require.NoError(t, err)
		assert.Equal(t, journal.StateSelecting, actual.State)
		assert.Nil(t, actual.FailureReason)
		assert.EqualValues(t, 2, actual.Version)
	})
}

func testInvalidRecord(t *testing.T, s journal.Store) {
	t.Run("testInvalidRecord", func(t *testing.T) {
		ctx := context.Background()

		valid := journal.Record{
			TransferId: "test_transfer_id",
			Kind:       journal.KindTransfer,
			Sender:     "test_sender",
			Recipient:  "test_recipient",
			Lamports:   1,
			State:      journal.StateIdle,
		}

		for _, mutate := range []func(r *journal.Record){
			func(r *journal.Record) { r.TransferId = "" },
			func(r *journal.Record) { r.Kind = journal.KindUnknown },
			func(r *journal.Record) { r.Sender = "" },
			func(r *journal.Record) { r.Recipient = "" },
			func(r *journal.Record) { r.Lamports = 0 },
			func(r *journal.Record) { r.State = journal.StateUnknown },
			func(r *journal.Record) { r.State = journal.StateFailed },
			func(r *journal.Record) { r.Kind = journal.KindResume },
			func(r *journal.Record) { r.ResumedFrom = pointer.String("test_original_transfer_id") },
		} {
			record := valid.Clone()
			mutate(&record)
			assert.Error(t, s.Save(ctx, &record))
		}

		_, err := s.GetById(ctx, "test_transfer_id")
		assert.Equal(t, journal.ErrNotFound, err)
	})
}

func testGetAllBySender(t *testing.T, s journal.Store) {
	t.Run("testGetAllBySender", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAllBySender(ctx, "test_sender", query.EmptyCursor, 10, query.Ascending)
		assert.Equal(t, journal.ErrNotFound, err)

		var expected []*journal.Record
		for i := 0; i < 10; i++ {
			sender := "test_sender"
			if i%2 == 1 {
				sender = "test_other_sender"
			}

			record := &journal.Record{
				TransferId: fmt.Sprintf("test_transfer_id_%d", i),
				Kind:       journal.KindTransfer,
				Sender:     sender,
				Recipient:  "test_recipient",
				Lamports:   uint64(i + 1),
				State:      journal.StateDone,
			}
			require.NoError(t, s.Save(ctx, record))

			if sender == "test_sender" {
				expected = append(expected, record)
			}
		}

		actual, err := s.GetAllBySender(ctx, "test_sender", query.EmptyCursor, 10, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, len(expected))
		for i := range expected {
			assertEquivalentRecords(t, expected[i], actual[i])
		}

		actual, err = s.GetAllBySender(ctx, "test_sender", query.EmptyCursor, 10, query.Descending)
		require.NoError(t, err)
		require.Len(t, actual, len(expected))
		for i := range expected {
			assertEquivalentRecords(t, expected[len(expected)-1-i], actual[i])
		}

		actual, err = s.GetAllBySender(ctx, "test_sender", query.EmptyCursor, 2, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, expected[0], actual[0])
		assertEquivalentRecords(t, expected[1], actual[1])

		actual, err = s.GetAllBySender(ctx, "test_sender", query.ToCursor(actual[1].Id), 2, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, expected[2], actual[0])
		assertEquivalentRecords(t, expected[3], actual[1])

		actual, err = s.GetAllBySender(ctx, "test_sender", query.ToCursor(expected[2].Id), 10, query.Descending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, expected[1], actual[0])
		assertEquivalentRecords(t, expected[0], actual[1])

		_, err = s.GetAllBySender(ctx, "test_sender", query.ToCursor(expected[4].Id), 10, query.Ascending)
		assert.Equal(t, journal.ErrNotFound, err)
	})
}

func testGetAllByState(t *testing.T, s journal.Store) {
	t.Run("testGetAllByState", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAllByState(ctx, journal.StateFailed, query.EmptyCursor, 10, query.Ascending)
		assert.Equal(t, journal.ErrNotFound, err)

		var failed []*journal.Record
		for i := 0; i < 6; i++ {
			record := &journal.Record{
				TransferId: fmt.Sprintf("test_transfer_id_%d", i),
				Kind:       journal.KindTransfer,
				Sender:     "test_sender",
				Recipient:  "test_recipient",
				Lamports:   1,
				Compressed: i%2 == 0,
				State:      journal.StateDone,
			}
			if i < 4 {
				record.State = journal.StateFailed
				record.FailureReason = pointer.String("test_failure")
				failed = append(failed, record)
			}
			require.NoError(t, s.Save(ctx, record))
		}

		actual, err := s.GetAllByState(ctx, journal.StateFailed, query.EmptyCursor, 10, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, len(failed))
		for i := range failed {
			assertEquivalentRecords(t, failed[i], actual[i])
		}

		actual, err = s.GetAllByState(ctx, journal.StateDone, query.EmptyCursor, 10, query.Descending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assert.Equal(t, "test_transfer_id_5", actual[0].TransferId)
		assert.Equal(t, "test_transfer_id_4", actual[1].TransferId)
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *journal.Record) {
	assert.Equal(t, obj1.Id, obj2.Id)
	assert.Equal(t, obj1.TransferId, obj2.TransferId)
	assert.Equal(t, obj1.Kind, obj2.Kind)
	assert.Equal(t, obj1.Sender, obj2.Sender)
	assert.Equal(t, obj1.Recipient, obj2.Recipient)
	assert.Equal(t, obj1.Lamports, obj2.Lamports)
	assert.EqualValues(t, obj1.CompressSignature, obj2.CompressSignature)
	assert.EqualValues(t, obj1.TransferSignature, obj2.TransferSignature)
	assert.Equal(t, obj1.LastValidBlockHeight, obj2.LastValidBlockHeight)
	assert.Equal(t, obj1.Compressed, obj2.Compressed)
	assert.EqualValues(t, obj1.ResumedFrom, obj2.ResumedFrom)
	assert.Equal(t, obj1.State, obj2.State)
	assert.EqualValues(t, obj1.FailureReason, obj2.FailureReason)
	assert.Equal(t, obj1.CreatedAt.Unix(), obj2.CreatedAt.Unix())
}
