package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiprelay/internal/apperr"
	"shiprelay/internal/model"
)

func TestFileContract(t *testing.T) {
	runContract(t, NewFile(filepath.Join(t.TempDir(), "pending.json")))
}

func TestFile_MissingFileIsEmpty(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "nested", "pending.json"))
	items, err := f.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	_, err = os.Stat(f.Path())
	assert.True(t, os.IsNotExist(err), "reading must not create the file")
}

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	_, err := NewFile(path).Append(context.Background(), "S1", 1001)
	require.NoError(t, err)

	items, err := NewFile(path).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "S1", items[0].ShipmentID)
}

func TestFile_HumanReadableArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	f := NewFile(path)
	_, err := f.Append(context.Background(), "S1", 1001)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  {")
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "S1", decoded[0]["shipment_id"])
	assert.EqualValues(t, 1001, decoded[0]["order_id"])
	assert.Contains(t, decoded[0], "created_at")

	require.NoError(t, f.ReplaceAll(context.Background(), nil))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))
}

func TestFile_CorruptFileIsPersistenceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	f := NewFile(path)

	_, err := f.LoadAll(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodePersistence))

	_, err = f.Append(context.Background(), "S1", 1)
	assert.True(t, apperr.Is(err, apperr.CodePersistence))
}

func TestFile_ClaimsInSiblingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	f := NewFile(path)
	ok, err := f.ClaimOrder(context.Background(), 1001)
	require.NoError(t, err)
	require.True(t, ok)

	items, err := f.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.PendingShipment{}, items)

	ok, err = NewFile(path).ClaimOrder(context.Background(), 1001)
	require.NoError(t, err)
	assert.False(t, ok)
}
