// Package rules evaluates Firestore-style security rules whose conditions
// are CEL expressions.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/shared/logger"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// DefaultLookupTimeout bounds each exists() or get() call made by a condition
const DefaultLookupTimeout = 5 * time.Second

var validOperations = map[repository.OperationType]bool{
	repository.OperationGet:    true,
	repository.OperationList:   true,
	repository.OperationCreate: true,
	repository.OperationUpdate: true,
	repository.OperationDelete: true,
	repository.OperationRead:   true,
	repository.OperationWrite:  true,
}

// compiledRule is a rule with its pattern and CEL programs ready to run
type compiledRule struct {
	rule    *repository.SecurityRule
	pattern *pattern
	allow   map[repository.OperationType]cel.Program
	deny    map[repository.OperationType]cel.Program
}

// program returns the condition for op, falling back to its umbrella
func (r *compiledRule) program(set map[repository.OperationType]cel.Program, op repository.OperationType) (cel.Program, bool) {
	if p, ok := set[op]; ok {
		return p, true
	}
	p, ok := set[op.Umbrella()]
	return p, ok
}

var _ repository.SecurityRulesEngine = (*Engine)(nil)

// Engine is an in-memory rules engine. Rules are tried in descending
// priority, ties in the order given. Every matching deny condition is
// checked before any allow condition and a request nothing allows is denied.
type Engine struct {
	mu       sync.RWMutex
	rules    []*compiledRule
	accessor repository.ResourceAccessor
	env      *cel.Env
	timeout  time.Duration
	log      logger.Logger
}

// NewEngine creates an engine with no rules, which denies everything
func NewEngine(log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNop()
	}
	e := &Engine{timeout: DefaultLookupTimeout, log: log.WithComponent("rules")}
	env, err := e.newEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	e.env = env
	return e, nil
}

// newEnvironment declares the variables and functions conditions may use
func (e *Engine) newEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Declarations(
			decls.NewVar("auth", decls.Dyn),
			decls.NewVar("request", decls.Dyn),
			decls.NewVar("resource", decls.Dyn),
			decls.NewVar("path", decls.String),
			decls.NewVar("variables", decls.NewMapType(decls.String, decls.String)),
		),
		cel.Function("exists",
			cel.Overload("exists_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.UnaryBinding(e.exists))),
		cel.Function("get",
			cel.Overload("get_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(e.get))),
	)
}

// SetResourceAccessor implements repository.SecurityRulesEngine
func (e *Engine) SetResourceAccessor(accessor repository.ResourceAccessor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accessor = accessor
}

// ReplaceRules implements repository.SecurityRulesEngine. Nothing is
// installed unless every rule compiles.
func (e *Engine) ReplaceRules(rules []*repository.SecurityRule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	for i, rule := range rules {
		c, err := e.compileRule(rule)
		if err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, rule.Match, err)
		}
		compiled = append(compiled, c)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority > compiled[j].rule.Priority
	})

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	e.log.Infof("Installed %d security rules", len(compiled))
	return nil
}

// Rules implements repository.SecurityRulesEngine
func (e *Engine) Rules() []*repository.SecurityRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*repository.SecurityRule, len(e.rules))
	for i, c := range e.rules {
		out[i] = c.rule
	}
	return out
}

func (e *Engine) compileRule(rule *repository.SecurityRule) (*compiledRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is nil")
	}
	if len(rule.Allow) == 0 && len(rule.Deny) == 0 {
		return nil, fmt.Errorf("rule has no allow or deny conditions")
	}
	p, err := compilePattern(rule.Match)
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern: %w", err)
	}
	c := &compiledRule{
		rule:    rule,
		pattern: p,
		allow:   make(map[repository.OperationType]cel.Program),
		deny:    make(map[repository.OperationType]cel.Program),
	}
	if err := e.compileConditions(rule.Allow, c.allow); err != nil {
		return nil, fmt.Errorf("allow: %w", err)
	}
	if err := e.compileConditions(rule.Deny, c.deny); err != nil {
		return nil, fmt.Errorf("deny: %w", err)
	}
	return c, nil
}

func (e *Engine) compileConditions(conditions map[repository.OperationType]string, into map[repository.OperationType]cel.Program) error {
	for op, condition := range conditions {
		if !validOperations[op] {
			return fmt.Errorf("invalid operation type %q", op)
		}
		if strings.TrimSpace(condition) == "" {
			return fmt.Errorf("condition for %s cannot be empty", op)
		}
		ast, issues := e.env.Compile(condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("condition for %s: %w", op, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return fmt.Errorf("condition for %s must be boolean, got %s", op, out)
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("condition for %s: %w", op, err)
		}
		into[op] = prg
	}
	return nil
}

// EvaluateAccess implements repository.SecurityRulesEngine. A condition
// that fails to evaluate, e.g. on a missing field, does not apply.
func (e *Engine) EvaluateAccess(ctx context.Context, op repository.OperationType, sc *repository.SecurityContext) (*repository.RuleEvaluationResult, error) {
	if sc == nil {
		return &repository.RuleEvaluationResult{Reason: "security context is required"}, fmt.Errorf("securityContext is required")
	}
	if !validOperations[op] {
		return &repository.RuleEvaluationResult{Reason: "unknown operation"}, fmt.Errorf("invalid operation type %q", op)
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	listing := op == repository.OperationList
	type candidate struct {
		rule *compiledRule
		vars map[string]interface{}
	}
	var matched []candidate
	for _, r := range rules {
		bound, ok := r.pattern.match(sc.Path, listing)
		if !ok {
			continue
		}
		matched = append(matched, candidate{rule: r, vars: activation(op, sc, bound)})
	}

	result := &repository.RuleEvaluationResult{Reason: "no matching rule (default deny)"}
	if len(matched) > 0 {
		result.RuleMatch = matched[0].rule.rule.Match
		result.Reason = fmt.Sprintf("no rule allows %s", op)
	}

	for _, m := range matched {
		prg, ok := m.rule.program(m.rule.deny, op)
		if !ok {
			continue
		}
		denied, err := evaluate(prg, m.vars)
		if err != nil {
			e.log.WithContext(ctx).Debugf("Deny condition of %s failed: %v", m.rule.rule.Match, err)
			continue
		}
		if denied {
			result.Allowed = false
			result.DeniedBy = m.rule.rule.Match
			result.RuleMatch = m.rule.rule.Match
			result.Reason = fmt.Sprintf("%s denied by %s", op, m.rule.rule.Match)
			return result, nil
		}
	}
	for _, m := range matched {
		prg, ok := m.rule.program(m.rule.allow, op)
		if !ok {
			continue
		}
		allowed, err := evaluate(prg, m.vars)
		if err != nil {
			e.log.WithContext(ctx).Debugf("Allow condition of %s failed: %v", m.rule.rule.Match, err)
			continue
		}
		if allowed {
			result.Allowed = true
			result.AllowedBy = m.rule.rule.Match
			result.RuleMatch = m.rule.rule.Match
			result.Reason = fmt.Sprintf("%s allowed by %s", op, m.rule.rule.Match)
			return result, nil
		}
	}
	return result, nil
}

// activation shapes the request the way rule authors address it:
// request.auth, request.resource.data, resource.data and resource.id
func activation(op repository.OperationType, sc *repository.SecurityContext, bound map[string]string) map[string]interface{} {
	var auth interface{}
	if sc.Auth != nil {
		token := map[string]interface{}{}
		for k, v := range sc.Auth.Token {
			token[k] = v
		}
		if sc.Auth.Email != "" {
			token["email"] = sc.Auth.Email
		}
		auth = map[string]interface{}{"uid": sc.Auth.UID, "token": token}
	}

	var resource interface{}
	if sc.Resource != nil {
		id := ""
		if i := strings.LastIndex(sc.Path, "/"); i >= 0 {
			id = sc.Path[i+1:]
		}
		resource = map[string]interface{}{"id": id, "data": sc.Resource}
	}

	var incoming interface{}
	if sc.Request != nil {
		incoming = map[string]interface{}{"data": sc.Request}
	}

	return map[string]interface{}{
		"auth": auth,
		"request": map[string]interface{}{
			"auth":     auth,
			"method":   string(op),
			"path":     sc.Path,
			"resource": incoming,
		},
		"resource":  resource,
		"path":      sc.Path,
		"variables": bound,
	}
}

func evaluate(prg cel.Program, vars map[string]interface{}) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %v, not a boolean", out.Value())
	}
	return b, nil
}

func (e *Engine) lookupPath(arg ref.Val) (string, string, repository.ResourceAccessor, ref.Val) {
	path, ok := arg.Value().(string)
	if !ok {
		return "", "", nil, types.NewErr("document path must be a string")
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		return "", "", nil, types.NewErr("document path %q must be <collection>/<document>", path)
	}
	e.mu.RLock()
	accessor := e.accessor
	e.mu.RUnlock()
	if accessor == nil {
		return "", "", nil, types.NewErr("no resource accessor configured")
	}
	return parts[0], parts[1], accessor, nil
}

// exists backs exists("<collection>/<document>")
func (e *Engine) exists(arg ref.Val) ref.Val {
	collection, id, accessor, errVal := e.lookupPath(arg)
	if errVal != nil {
		return errVal
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	found, err := accessor.ExistsDocument(ctx, collection, id)
	if err != nil {
		return types.NewErr("exists(%s/%s): %v", collection, id, err)
	}
	return types.Bool(found)
}

// get backs get("<collection>/<document>"), returning {"id", "data"}
func (e *Engine) get(arg ref.Val) ref.Val {
	collection, id, accessor, errVal := e.lookupPath(arg)
	if errVal != nil {
		return errVal
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	data, err := accessor.GetDocument(ctx, collection, id)
	if err != nil {
		return types.NewErr("get(%s/%s): %v", collection, id, err)
	}
	if data == nil {
		return types.NewErr("get(%s/%s): document does not exist", collection, id)
	}
	return types.DefaultTypeAdapter.NativeToValue(map[string]interface{}{"id": id, "data": data})
}
