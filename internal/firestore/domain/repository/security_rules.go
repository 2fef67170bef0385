package repository

import "context"

// OperationType is the access being requested
type OperationType string

const (
	OperationGet    OperationType = "get"
	OperationList   OperationType = "list"
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"

	// OperationRead and OperationWrite are umbrella operations a rule may
	// grant instead of naming the specific ones.
	OperationRead  OperationType = "read"
	OperationWrite OperationType = "write"
)

// Umbrella returns the read or write group an operation falls back to
func (o OperationType) Umbrella() OperationType {
	switch o {
	case OperationGet, OperationList:
		return OperationRead
	case OperationCreate, OperationUpdate, OperationDelete:
		return OperationWrite
	}
	return o
}

// AuthInfo identifies the caller. A nil *AuthInfo is an unauthenticated request.
type AuthInfo struct {
	UID   string                 `json:"uid"`
	Email string                 `json:"email,omitempty"`
	Token map[string]interface{} `json:"token,omitempty"`
}

// SecurityContext contains context information for rule evaluation
type SecurityContext struct {
	Auth       *AuthInfo `json:"auth,omitempty"`
	ProjectID  string    `json:"projectId"`
	DatabaseID string    `json:"databaseId"`
	// Path is relative to the database: "<collection>/<document>" or "<collection>" for lists
	Path string `json:"path"`
	// Resource is the stored document, nil when it does not exist
	Resource map[string]interface{} `json:"resource,omitempty"`
	// Request carries the incoming data for writes
	Request map[string]interface{} `json:"request,omitempty"`
	// Variables extracted from path matching (e.g., {itemId} -> itemId: "a")
	Variables map[string]string `json:"variables,omitempty"`
}

// SecurityRule represents a single security rule
type SecurityRule struct {
	// Match pattern for paths this rule applies to
	Match string `json:"match" yaml:"match"`

	Allow map[OperationType]string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  map[OperationType]string `json:"deny,omitempty" yaml:"deny,omitempty"`

	// Higher priority rules are evaluated first
	Priority    int    `json:"priority" yaml:"priority"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RuleEvaluationResult represents the result of rule evaluation
type RuleEvaluationResult struct {
	Allowed   bool   `json:"allowed"`
	DeniedBy  string `json:"deniedBy,omitempty"`
	AllowedBy string `json:"allowedBy,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RuleMatch string `json:"ruleMatch,omitempty"`
}

// ResourceAccessor backs the exists() and get() rule functions
type ResourceAccessor interface {
	GetDocument(ctx context.Context, collection, id string) (map[string]interface{}, error)
	ExistsDocument(ctx context.Context, collection, id string) (bool, error)
}

// SecurityRulesEngine decides whether a request may proceed. Deny conditions
// are evaluated before allow conditions and the default is deny.
type SecurityRulesEngine interface {
	EvaluateAccess(ctx context.Context, operation OperationType, sc *SecurityContext) (*RuleEvaluationResult, error)
	// ReplaceRules validates, compiles and installs a rule set
	ReplaceRules(rules []*SecurityRule) error
	Rules() []*SecurityRule
	SetResourceAccessor(accessor ResourceAccessor)
}
