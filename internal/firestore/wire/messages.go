package wire

// DocumentMask lists the field paths a write touches
type DocumentMask struct {
	FieldPaths []string `json:"fieldPaths"`
}

// Precondition guards a write. Version is an extension: the stored version
// the write expects, as returned in Document.Version.
type Precondition struct {
	Exists  *bool `json:"exists,omitempty"`
	Version int64 `json:"version,string,omitempty"`
}

// Write is one mutation of a commit: either Update or Delete is set
type Write struct {
	Update          *Document     `json:"update,omitempty"`
	Delete          string        `json:"delete,omitempty"`
	UpdateMask      *DocumentMask `json:"updateMask,omitempty"`
	CurrentDocument *Precondition `json:"currentDocument,omitempty"`
}

// WriteResult reports one applied write
type WriteResult struct {
	UpdateTime string `json:"updateTime,omitempty"`
	Version    int64  `json:"version,string,omitempty"`
}

type CommitRequest struct {
	Writes      []Write `json:"writes"`
	Transaction string  `json:"transaction,omitempty"`
}

type CommitResponse struct {
	WriteResults []WriteResult `json:"writeResults"`
	CommitTime   string        `json:"commitTime"`
}

type BeginTransactionResponse struct {
	Transaction string `json:"transaction"`
}

type RollbackRequest struct {
	Transaction string `json:"transaction"`
}

type RunQueryRequest struct {
	StructuredQuery *StructuredQuery `json:"structuredQuery"`
	Transaction     string           `json:"transaction,omitempty"`
}

// RunQueryResponse is one element of a query response. A response with no
// Document reports the read time of an empty result.
type RunQueryResponse struct {
	Document *Document `json:"document,omitempty"`
	ReadTime string    `json:"readTime"`
}

// ListenRequest is the first frame a client sends on a listen socket
type ListenRequest struct {
	StructuredQuery *StructuredQuery `json:"structuredQuery"`
	ResumeToken     string           `json:"resumeToken,omitempty"`
}

// DocumentChange reports how one document moved between snapshots
type DocumentChange struct {
	Type     string    `json:"type"`
	Document *Document `json:"document"`
	OldIndex int       `json:"oldIndex"`
	NewIndex int       `json:"newIndex"`
}

// ListenResponse is one server frame on a listen socket: a snapshot, or an
// error after which the server closes the socket.
type ListenResponse struct {
	Documents   []*Document      `json:"documents,omitempty"`
	Changes     []DocumentChange `json:"changes,omitempty"`
	ReadTime    string           `json:"readTime,omitempty"`
	ResumeToken string           `json:"resumeToken,omitempty"`
	Error       *Status          `json:"error,omitempty"`
}

// Status is the error body of the REST envelope {"error": {...}}
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error Status `json:"error"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInResponse struct {
	IDToken   string `json:"idToken"`
	LocalID   string `json:"localId"`
	Email     string `json:"email"`
	ExpiresIn string `json:"expiresIn"`
}
