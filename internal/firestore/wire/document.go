package wire

import (
	"fmt"
	"net/url"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	resource "firestore-driver/internal/shared/firestore"
)

// Document is a REST document. Version is an extension carrying the stored
// document version so clients can build version preconditions.
type Document struct {
	Name       string                 `json:"name,omitempty"`
	Fields     map[string]interface{} `json:"fields"`
	CreateTime string                 `json:"createTime,omitempty"`
	UpdateTime string                 `json:"updateTime,omitempty"`
	Version    int64                  `json:"version,string,omitempty"`
}

// EncodeDocument renders a stored document under its resource name
func EncodeDocument(name string, doc *model.Document) (*Document, error) {
	fields, err := EncodeFields(doc.Data)
	if err != nil {
		return nil, err
	}
	return &Document{
		Name:       name,
		Fields:     fields,
		CreateTime: FormatTime(doc.CreateTime),
		UpdateTime: FormatTime(doc.UpdateTime),
		Version:    doc.Version,
	}, nil
}

// DecodeDocument parses a REST document. Collection and ID come from its name.
func DecodeDocument(d *Document) (*model.Document, error) {
	if d == nil {
		return nil, fmt.Errorf("document is missing")
	}
	data, err := DecodeFields(d.Fields)
	if err != nil {
		return nil, err
	}
	doc := &model.Document{Data: data, Version: d.Version}
	if d.Name != "" {
		info, err := resource.ParseDocumentName(d.Name)
		if err != nil {
			return nil, err
		}
		doc.Collection, doc.ID = info.CollectionID, info.DocumentID
	}
	if doc.CreateTime, err = ParseTime(d.CreateTime); err != nil {
		return nil, fmt.Errorf("createTime: %w", err)
	}
	if doc.UpdateTime, err = ParseTime(d.UpdateTime); err != nil {
		return nil, fmt.Errorf("updateTime: %w", err)
	}
	return doc, nil
}

// DocumentName joins a documents root, a collection and a document ID
func DocumentName(documentsRoot, collection, id string) string {
	return documentsRoot + "/" + collection + "/" + url.PathEscape(id)
}

// FormatTime renders a timestamp, or "" for the zero time
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime is the inverse of FormatTime
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
