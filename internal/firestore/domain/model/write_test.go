package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var commitTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func existingDoc() *Document {
	return &Document{
		ID:         "a",
		Collection: "items",
		Data: map[string]interface{}{
			"value": int64(1),
			"label": "one",
			"meta":  map[string]interface{}{"x": int64(1), "y": int64(2)},
		},
		CreateTime: commitTime.Add(-time.Hour),
		UpdateTime: commitTime.Add(-time.Hour),
		Version:    3,
	}
}

func TestApplyWrite_Replace(t *testing.T) {
	w, err := NewSetWrite("a", map[string]interface{}{"value": 2})
	require.NoError(t, err)

	doc, err := ApplyWrite(existingDoc(), "items", w, commitTime)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"value": int64(2)}, doc.Data)
	assert.Equal(t, int64(4), doc.Version)
	assert.Equal(t, commitTime.Add(-time.Hour), doc.CreateTime)
	assert.Equal(t, commitTime, doc.UpdateTime)
}

func TestApplyWrite_MergeKeepsUntouchedFields(t *testing.T) {
	w, err := NewSetWrite("a", map[string]interface{}{
		"value": 5,
		"meta":  map[string]interface{}{"y": 9},
	}, WithMerge())
	require.NoError(t, err)

	doc, err := ApplyWrite(existingDoc(), "items", w, commitTime)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"value": int64(5),
		"label": "one",
		"meta":  map[string]interface{}{"x": int64(1), "y": int64(9)},
	}, doc.Data)
}

func TestApplyWrite_MergeFieldsDeletesMissing(t *testing.T) {
	w, err := NewSetWrite("a", map[string]interface{}{"value": 7, "label": "ignored"}, WithMergeFields("value", "meta.x"))
	require.NoError(t, err)

	doc, err := ApplyWrite(existingDoc(), "items", w, commitTime)
	require.NoError(t, err)
	assert.Equal(t, int64(7), doc.Data["value"])
	assert.Equal(t, "one", doc.Data["label"])
	assert.Equal(t, map[string]interface{}{"y": int64(2)}, doc.Data["meta"])
}

func TestApplyWrite_Sentinels(t *testing.T) {
	w, err := NewSetWrite("a", map[string]interface{}{
		"value":   Increment(2),
		"label":   DeleteField,
		"touched": ServerTimestamp,
	}, WithMerge())
	require.NoError(t, err)

	doc, err := ApplyWrite(existingDoc(), "items", w, commitTime)
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Data["value"])
	assert.NotContains(t, doc.Data, "label")
	assert.Equal(t, commitTime, doc.Data["touched"])
}

func TestApplyWrite_CreateAndReplaceIncrement(t *testing.T) {
	w, err := NewSetWrite("b", map[string]interface{}{"n": Increment(5)})
	require.NoError(t, err)

	doc, err := ApplyWrite(nil, "items", w, commitTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, commitTime, doc.CreateTime)
	assert.Equal(t, int64(5), doc.Data["n"])
}

func TestWriteValidate(t *testing.T) {
	_, err := NewSetWrite("", map[string]interface{}{"a": 1})
	assert.ErrorIs(t, err, ErrInvalidDocumentID)

	_, err = NewSetWrite("a/b", map[string]interface{}{"a": 1})
	assert.ErrorIs(t, err, ErrInvalidDocumentID)

	_, err = NewSetWrite("a", map[string]interface{}{"a": DeleteField})
	assert.ErrorIs(t, err, ErrInvalidWrite)

	_, err = NewSetWrite("a", map[string]interface{}{"a": 1}, WithMergeFields("__name__"))
	assert.ErrorIs(t, err, ErrInvalidWrite)

	_, err = NewSetWrite("a", map[string]interface{}{"a.b": 1})
	assert.ErrorIs(t, err, ErrInvalidWrite)

	_, err = NewSetWrite("a", map[string]interface{}{"m": map[string]interface{}{"__x": 1}})
	assert.ErrorIs(t, err, ErrInvalidWrite)

	assert.NoError(t, NewDeleteWrite("gone").Validate())
}

func TestPreconditionCheck(t *testing.T) {
	doc := existingDoc()
	assert.NoError(t, Precondition{}.Check(nil))
	assert.NoError(t, MustExist().Check(doc))
	assert.ErrorIs(t, MustExist().Check(nil), ErrPreconditionFailed)
	assert.ErrorIs(t, MustNotExist().Check(doc), ErrPreconditionFailed)
	assert.NoError(t, AtVersion(3).Check(doc))
	assert.ErrorIs(t, AtVersion(2).Check(doc), ErrPreconditionFailed)
	assert.NoError(t, AtVersion(0).Check(nil))
	assert.ErrorIs(t, AtVersion(0).Check(doc), ErrPreconditionFailed)
}

func TestMutate(t *testing.T) {
	set, err := NewSetWrite("a", map[string]interface{}{"value": 5})
	require.NoError(t, err)

	doc, change, err := Mutate(nil, "items", set, commitTime)
	require.NoError(t, err)
	assert.Equal(t, ChangeAdded, change)
	assert.Equal(t, int64(1), doc.Version)

	doc, change, err = Mutate(existingDoc(), "items", set, commitTime)
	require.NoError(t, err)
	assert.Equal(t, ChangeModified, change)
	assert.Equal(t, int64(4), doc.Version)

	doc, change, err = Mutate(nil, "items", NewDeleteWrite("a"), commitTime)
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Empty(t, change)

	_, change, err = Mutate(existingDoc(), "items", NewDeleteWrite("a"), commitTime)
	require.NoError(t, err)
	assert.Equal(t, ChangeRemoved, change)

	set.Precondition = AtVersion(2)
	_, _, err = Mutate(existingDoc(), "items", set, commitTime)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestGuardWrites(t *testing.T) {
	bump, err := NewSetWrite("a", map[string]interface{}{"value": 2})
	require.NoError(t, err)
	create, err := NewSetWrite("b", map[string]interface{}{"value": 1})
	require.NoError(t, err)
	explicit := NewDeleteWrite("c")
	explicit.Precondition = MustExist()

	out := GuardWrites(map[string]int64{"a": 3, "b": 0, "c": 7}, []Write{bump, bump, create, explicit, NewDeleteWrite("d")})
	assert.Equal(t, AtVersion(3), out[0].Precondition)
	assert.True(t, out[1].Precondition.IsZero(), "only the first write to a document is guarded")
	assert.Equal(t, MustNotExist(), out[2].Precondition)
	assert.Equal(t, MustExist(), out[3].Precondition)
	assert.True(t, out[4].Precondition.IsZero(), "unread documents are not guarded")
	assert.True(t, bump.Precondition.IsZero(), "inputs are not modified")
	assert.Len(t, out, 5, "every read document is written")
}

func TestGuardWritesVerifiesUnwrittenReads(t *testing.T) {
	dst, err := NewSetWrite("dst", map[string]interface{}{"value": 1})
	require.NoError(t, err)

	out := GuardWrites(map[string]int64{"src": 4, "gone": 0, "dst": 2}, []Write{dst})
	require.Len(t, out, 3)
	assert.Equal(t, AtVersion(2), out[0].Precondition)
	assert.Equal(t, NewVerifyWrite("gone", MustNotExist()), out[1])
	assert.Equal(t, NewVerifyWrite("src", AtVersion(4)), out[2])

	src := &Document{ID: "src", Collection: "items", Data: map[string]interface{}{"value": int64(1)}, Version: 4}
	doc, change, err := Mutate(src, "items", out[2], Now())
	require.NoError(t, err)
	assert.Same(t, src, doc, "a verify write leaves the document alone")
	assert.Empty(t, change)

	moved := src.Clone()
	moved.Version = 5
	_, _, err = Mutate(moved, "items", out[2], Now())
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	bad := out[2]
	bad.Data = map[string]interface{}{"value": 1}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWrite)
}
