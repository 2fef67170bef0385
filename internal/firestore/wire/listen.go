package wire

import (
	"fmt"

	"firestore-driver/internal/firestore/domain/model"
)

// EncodeSnapshot renders one listener snapshot as a server frame
func EncodeSnapshot(documentsRoot, collection string, snap *model.QuerySnapshot) (*ListenResponse, error) {
	out := &ListenResponse{
		Documents:   make([]*Document, 0, len(snap.Docs)),
		ReadTime:    FormatTime(snap.ReadTime),
		ResumeToken: snap.ResumeToken,
	}
	for _, s := range snap.Docs {
		d, err := encodeSnapshotDoc(documentsRoot, collection, s)
		if err != nil {
			return nil, err
		}
		out.Documents = append(out.Documents, d)
	}
	for _, ch := range snap.Changes {
		d, err := encodeSnapshotDoc(documentsRoot, collection, ch.Doc)
		if err != nil {
			return nil, err
		}
		out.Changes = append(out.Changes, DocumentChange{
			Type:     string(ch.Type),
			Document: d,
			OldIndex: ch.OldIndex,
			NewIndex: ch.NewIndex,
		})
	}
	return out, nil
}

func encodeSnapshotDoc(root, collection string, s *model.DocumentSnapshot) (*Document, error) {
	return EncodeDocument(DocumentName(root, collection, s.ID), &model.Document{
		ID:         s.ID,
		Collection: collection,
		Data:       s.Data,
		CreateTime: s.CreateTime,
		UpdateTime: s.UpdateTime,
		Version:    s.Version,
	})
}

// DecodeSnapshotDocuments returns the documents of a snapshot frame in
// result order. Changes are left to the receiver, which diffs against the
// snapshot it holds.
func DecodeSnapshotDocuments(resp *ListenResponse) ([]*model.DocumentSnapshot, error) {
	readTime, err := ParseTime(resp.ReadTime)
	if err != nil {
		return nil, fmt.Errorf("readTime: %w", err)
	}
	snaps := make([]*model.DocumentSnapshot, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		doc, err := DecodeDocument(d)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, model.NewSnapshot(doc.ID, doc, readTime))
	}
	return snaps, nil
}
