package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "firestore-driver context key " + string(c)
}

const (
	RequestIDKey  = contextKey("requestID")
	UserIDKey     = contextKey("userID")
	UserEmailKey  = contextKey("userEmail")
	ProjectIDKey  = contextKey("projectID")
	DatabaseIDKey = contextKey("databaseID")

	// RunIDKey carries the fixture run identifier through test helpers
	RunIDKey = contextKey("runID")
	// DriverKey names the driver ("admin" or "client") serving the call
	DriverKey = contextKey("driver")
	// CollectionKey names the collection the call is bound to
	CollectionKey = contextKey("collection")
)
