package wire

import (
	"testing"
	"time"

	"firestore-driver/internal/firestore/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotFrame_RoundTrip(t *testing.T) {
	readTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	docs := []*model.DocumentSnapshot{
		model.NewSnapshot("a", &model.Document{ID: "a", Data: map[string]interface{}{"value": int64(1)}, Version: 1, UpdateTime: readTime}, readTime),
		model.NewSnapshot("b/c", &model.Document{ID: "b/c", Data: map[string]interface{}{"value": int64(2)}, Version: 3, UpdateTime: readTime}, readTime),
	}
	snap := &model.QuerySnapshot{Docs: docs, Changes: model.DiffSnapshots(nil, docs), ReadTime: readTime, ResumeToken: "42"}

	frame, err := EncodeSnapshot(root, "items", snap)
	require.NoError(t, err)
	require.Len(t, frame.Changes, 2)
	assert.Equal(t, "added", frame.Changes[0].Type)
	assert.Equal(t, "42", frame.ResumeToken)

	decoded, err := DecodeSnapshotDocuments(frame)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "a", decoded[0].ID)
	assert.Equal(t, "b/c", decoded[1].ID, "escaped ids survive the resource name")
	assert.Equal(t, int64(3), decoded[1].Version)
	assert.Equal(t, int64(2), decoded[1].Data["value"])
	assert.True(t, decoded[0].ReadTime.Equal(readTime))
}
