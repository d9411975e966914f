package records_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iov-one/claimsend/records"
	"github.com/iov-one/claimsend/store"
	"github.com/iov-one/claimsend/store/iavl"
)

func TestKVStoreMemory(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) records.Store {
		return records.NewKVStore(store.MemStore())
	})
}

func TestKVStoreIAVL(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) records.Store {
		db, err := iavl.NewCommitStore("", "records")
		require.NoError(t, err)
		return records.NewKVStore(db)
	})
}

func TestKVStoreCommitsEveryWrite(t *testing.T) {
	db, err := iavl.NewCommitStore("", "records")
	require.NoError(t, err)
	s := records.NewKVStore(db)
	ctx := context.Background()

	r := newRecord(t, 1)
	require.NoError(t, s.Create(ctx, r))
	first := db.LatestVersion()
	require.True(t, first.Version > 0)

	_, err = records.UpdateState(ctx, s, r.ID, records.StatePending, records.StateFunded, "", nil, 0)
	require.NoError(t, err)
	require.Equal(t, first.Version+1, db.LatestVersion().Version)
}
