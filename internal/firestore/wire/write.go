package wire

import (
	"fmt"
	"sort"

	"firestore-driver/internal/firestore/domain/model"
	resource "firestore-driver/internal/shared/firestore"
)

// EncodeWrite renders a write against collection. A merge set carries its
// field mask; a plain merge masks every leaf path of its data.
func EncodeWrite(documentsRoot, collection string, w model.Write) (Write, error) {
	name := DocumentName(documentsRoot, collection, w.ID)
	out := Write{CurrentDocument: encodePrecondition(w.Precondition)}
	switch w.Kind {
	case model.WriteDelete:
		out.Delete = name
		return out, nil
	case model.WriteSet:
		fields, err := EncodeFields(w.Data)
		if err != nil {
			return Write{}, err
		}
		out.Update = &Document{Name: name, Fields: fields}
		if w.Options.Merge {
			paths := w.Options.MergeFields
			if len(paths) == 0 {
				paths = model.LeafPaths(w.Data)
				sort.Strings(paths)
			}
			out.UpdateMask = &DocumentMask{FieldPaths: append([]string{}, paths...)}
		}
		return out, nil
	}
	return Write{}, fmt.Errorf("unknown write kind %q", w.Kind)
}

// DecodeWrite parses a write. It returns the collection named by the write
// alongside it so callers can reject writes outside the expected scope.
func DecodeWrite(in Write) (string, model.Write, error) {
	switch {
	case in.Update != nil && in.Delete != "":
		return "", model.Write{}, fmt.Errorf("write must set exactly one of update and delete")
	case in.Delete != "":
		info, err := resource.ParseDocumentName(in.Delete)
		if err != nil {
			return "", model.Write{}, err
		}
		w := model.NewDeleteWrite(info.DocumentID)
		w.Precondition = decodePrecondition(in.CurrentDocument)
		return info.CollectionID, w, nil
	case in.Update != nil:
		info, err := resource.ParseDocumentName(in.Update.Name)
		if err != nil {
			return "", model.Write{}, err
		}
		data, err := DecodeFields(in.Update.Fields)
		if err != nil {
			return "", model.Write{}, err
		}
		var opts []model.SetOption
		if in.UpdateMask != nil {
			opts = append(opts, model.WithMergeFields(in.UpdateMask.FieldPaths...))
		}
		w, err := model.NewSetWrite(info.DocumentID, data, opts...)
		if err != nil {
			return "", model.Write{}, err
		}
		w.Precondition = decodePrecondition(in.CurrentDocument)
		return info.CollectionID, w, nil
	}
	return "", model.Write{}, fmt.Errorf("write must set one of update and delete")
}

func encodePrecondition(p model.Precondition) *Precondition {
	if p.IsZero() {
		return nil
	}
	return &Precondition{Exists: p.Exists, Version: p.Version}
}

func decodePrecondition(p *Precondition) model.Precondition {
	if p == nil {
		return model.Precondition{}
	}
	return model.Precondition{Exists: p.Exists, Version: p.Version}
}
