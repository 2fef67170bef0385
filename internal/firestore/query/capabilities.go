package query

// Capabilities describes what a backend access mode can express and enforce.
// Drivers publish it so callers and the shared suite can branch on features
// instead of on driver identity.
type Capabilities struct {
	// MaxInequalityFields caps distinct fields carrying range or not-equal
	// filters. 0 means unlimited.
	MaxInequalityFields int `json:"maxInequalityFields"`
	// MaxDisjunctionValues caps the list length of in, not-in and
	// array-contains-any. 0 means unlimited.
	MaxDisjunctionValues int `json:"maxDisjunctionValues"`
	// ServerTimestamps allows write sentinels resolved at commit time
	ServerTimestamps bool `json:"serverTimestamps"`
	// BatchedWrites exposes atomic multi-document batches outside transactions
	BatchedWrites bool `json:"batchedWrites"`
	// Listeners exposes restartable realtime query streams
	Listeners bool `json:"listeners"`
	// EnforcesRules means every call may fail with PermissionDenied
	EnforcesRules bool `json:"enforcesRules"`
}

// Privileged is the capability set of direct store access
func Privileged() Capabilities {
	return Capabilities{
		MaxInequalityFields:  0,
		MaxDisjunctionValues: 0,
		ServerTimestamps:     true,
		BatchedWrites:        true,
		Listeners:            true,
		EnforcesRules:        false,
	}
}

// Restricted is the capability set of rule-checked client access
func Restricted() Capabilities {
	return Capabilities{
		MaxInequalityFields:  1,
		MaxDisjunctionValues: 30,
		ServerTimestamps:     false,
		BatchedWrites:        false,
		Listeners:            true,
		EnforcesRules:        true,
	}
}
