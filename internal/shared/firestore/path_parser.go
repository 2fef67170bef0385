package firestore

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"firestore-driver/internal/shared/errors"
)

// PathInfo represents a parsed document resource name
type PathInfo struct {
	ProjectID    string
	DatabaseID   string
	CollectionID string
	DocumentID   string
}

// RelativePath is the database relative path used by security rules
func (p *PathInfo) RelativePath() string {
	if p.DocumentID == "" {
		return p.CollectionID
	}
	return p.CollectionID + "/" + p.DocumentID
}

var (
	// projects/{PROJECT_ID}/databases/{DATABASE_ID}/documents/{COLLECTION}[/{DOCUMENT}]
	resourceNameRegex = regexp.MustCompile(`^projects/([^/]+)/databases/([^/]+)/documents/([^/]+)(?:/([^/]+))?$`)

	validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// DocumentsRoot returns the parent of every top level collection
func DocumentsRoot(projectID, databaseID string) string {
	return fmt.Sprintf("projects/%s/databases/%s/documents", projectID, databaseID)
}

// DocumentName builds the full resource name of a document
func DocumentName(projectID, databaseID, collectionID, documentID string) string {
	return DocumentsRoot(projectID, databaseID) + "/" + collectionID + "/" + url.PathEscape(documentID)
}

// ParseDocumentName parses a full resource name. Document IDs may be URL
// path-escaped.
func ParseDocumentName(name string) (*PathInfo, error) {
	if name == "" {
		return nil, errors.NewInvalidArgumentError("resource name cannot be empty")
	}
	matches := resourceNameRegex.FindStringSubmatch(strings.Trim(name, "/"))
	if matches == nil {
		return nil, errors.NewInvalidArgumentError("invalid resource name").
			WithDetail("expected_format", "projects/{PROJECT_ID}/databases/{DATABASE_ID}/documents/{COLLECTION_ID}/{DOCUMENT_ID}").
			WithDetail("provided_path", name)
	}
	info := &PathInfo{ProjectID: matches[1], DatabaseID: matches[2], CollectionID: matches[3]}
	if matches[4] != "" {
		id, err := url.PathUnescape(matches[4])
		if err != nil {
			return nil, errors.NewInvalidArgumentError("invalid document ID escape").WithCause(err)
		}
		info.DocumentID = id
	}
	if !IsValidID(info.ProjectID) || !IsValidID(info.DatabaseID) {
		return nil, errors.NewInvalidArgumentError("invalid project or database ID").
			WithDetail("project_id", info.ProjectID).
			WithDetail("database_id", info.DatabaseID)
	}
	return info, nil
}

// DocumentIDFromName returns the last segment of a document resource name.
// A bare ID is returned unchanged.
func DocumentIDFromName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		if id, err := url.PathUnescape(name[i+1:]); err == nil {
			return id
		}
		return name[i+1:]
	}
	return name
}

// DefaultDatabaseID names the default database of a project
const DefaultDatabaseID = "(default)"

// IsValidID checks project and database identifiers
func IsValidID(id string) bool {
	if id == DefaultDatabaseID {
		return true
	}
	if id == "" || len(id) > 1500 {
		return false
	}
	return validIDPattern.MatchString(id)
}
