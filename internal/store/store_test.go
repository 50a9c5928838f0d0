//go:build test

package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/srg/potlink/internal/plants"
	"github.com/srg/potlink/internal/store"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (suite *StoreTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
}

func (suite *StoreTestSuite) TestFileBlobRoundTrip() {
	dir := suite.T().TempDir()
	blobs, err := store.NewFileBlobStore(filepath.Join(dir, "nested"), suite.helper.Logger)
	suite.Require().NoError(err)
	ctx := context.Background()

	_, ok, err := blobs.Get(ctx, store.PairedKey)
	suite.Require().NoError(err)
	suite.False(ok, "missing key MUST report not found")

	suite.Require().NoError(blobs.Set(ctx, store.PairedKey, []byte(`{"a":1}`)))
	data, ok, err := blobs.Get(ctx, store.PairedKey)
	suite.Require().NoError(err)
	suite.True(ok)
	suite.Equal(`{"a":1}`, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	suite.Require().NoError(err)
	suite.Len(entries, 1, "atomic write MUST NOT leave temp files behind")

	suite.Require().NoError(blobs.Delete(ctx, store.PairedKey))
	suite.Require().NoError(blobs.Delete(ctx, store.PairedKey), "deleting a missing key MUST succeed")

	suite.ErrorIs(blobs.Set(ctx, "../escape", nil), store.ErrInvalidKey)
}

func (suite *StoreTestSuite) TestPairedReadModifyWrite() {
	// GOAL: Verify Put and Remove always rewrite the whole map
	//
	// TEST SCENARIO: empty store → Put two → Remove one → remaining record intact in the blob JSON

	ctx := context.Background()
	blobs := store.NewMemoryBlobStore()
	paired := store.NewBlobPairedDevices(blobs)

	records, err := paired.GetPairedDevices(ctx)
	suite.Require().NoError(err)
	suite.Empty(records, "empty store MUST yield an empty map")

	fern := store.PairedDeviceRecord{ID: "id-1", Name: "Fern", AddedAt: 2000, MeasurementSystem: plants.Imperial, Plant: "Fern"}
	basil := store.PairedDeviceRecord{ID: "id-2", Name: "Basil", AddedAt: 1000, MeasurementSystem: plants.Metric, Plant: "Basil"}
	suite.Require().NoError(store.Put(ctx, paired, fern))
	suite.Require().NoError(store.Put(ctx, paired, basil))

	removed, err := store.Remove(ctx, paired, "id-2")
	suite.Require().NoError(err)
	suite.True(removed)
	removed, err = store.Remove(ctx, paired, "id-2")
	suite.Require().NoError(err)
	suite.False(removed, "second remove MUST report nothing removed")

	raw, ok, err := blobs.Get(ctx, store.PairedKey)
	suite.Require().NoError(err)
	suite.Require().True(ok)
	testutils.NewJSONAsserter(suite.T()).Assert(string(raw), `{
		"id-1": {"id": "id-1", "name": "Fern", "addedAt": 2000, "measurementSystem": 0, "plant": "Fern"}
	}`)
}

func (suite *StoreTestSuite) TestSortedByAddedAt() {
	sorted := store.SortedByAddedAt(map[string]store.PairedDeviceRecord{
		"b": {ID: "b", AddedAt: 5},
		"a": {ID: "a", AddedAt: 5},
		"c": {ID: "c", AddedAt: 1},
	})
	ids := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID}
	suite.Equal([]string{"c", "a", "b"}, ids)
}

func (suite *StoreTestSuite) TestCorruptBlob() {
	ctx := context.Background()
	blobs := store.NewMemoryBlobStore()
	suite.Require().NoError(blobs.Set(ctx, store.PairedKey, []byte("not json")))

	_, err := store.NewBlobPairedDevices(blobs).GetPairedDevices(ctx)
	suite.ErrorContains(err, "failed to decode paired devices")
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
