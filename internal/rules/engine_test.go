package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"firestore-driver/internal/firestore/adapter/persistence/memory"
	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemRules = `
rules:
  - match: "items/{itemId}"
    priority: 10
    allow:
      read: "auth != null"
      create: "auth != null && request.resource.data.value >= 0"
      update: "auth != null && resource.data.owner == auth.uid"
      delete: "auth != null && exists('owners/' + auth.uid)"
    deny:
      read: "variables.itemId == 'secret'"
  - match: "{document=**}"
    deny:
      write: "auth != null && auth.token.email == 'banned@example.com'"
    allow:
      read: "false"
`

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil)
	require.NoError(t, err)
	rules, err := Parse([]byte(itemRules))
	require.NoError(t, err)
	require.NoError(t, e.ReplaceRules(rules))
	return e
}

func user(uid string) *repository.AuthInfo {
	return &repository.AuthInfo{UID: uid, Email: uid + "@example.com"}
}

func check(t *testing.T, e *Engine, op repository.OperationType, sc *repository.SecurityContext) *repository.RuleEvaluationResult {
	t.Helper()
	sc.ProjectID, sc.DatabaseID = "demo", "(default)"
	res, err := e.EvaluateAccess(context.Background(), op, sc)
	require.NoError(t, err)
	return res
}

func TestEngine_DefaultDeny(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)
	res := check(t, e, repository.OperationGet, &repository.SecurityContext{Auth: user("u1"), Path: "items/a"})
	assert.False(t, res.Allowed)
	assert.Empty(t, res.RuleMatch)
}

func TestEngine_Evaluate(t *testing.T) {
	e := newEngine(t)
	tests := []struct {
		name    string
		op      repository.OperationType
		sc      repository.SecurityContext
		allowed bool
	}{
		{name: "signed-in get", op: repository.OperationGet, sc: repository.SecurityContext{Auth: user("u1"), Path: "items/a"}, allowed: true},
		{name: "anonymous get", op: repository.OperationGet, sc: repository.SecurityContext{Path: "items/a"}},
		{name: "list uses the read umbrella", op: repository.OperationList, sc: repository.SecurityContext{Auth: user("u1"), Path: "items"}, allowed: true},
		{name: "deny beats allow", op: repository.OperationGet, sc: repository.SecurityContext{Auth: user("u1"), Path: "items/secret"}},
		{name: "create checks incoming data", op: repository.OperationCreate,
			sc:      repository.SecurityContext{Auth: user("u1"), Path: "items/a", Request: map[string]interface{}{"value": int64(1)}},
			allowed: true},
		{name: "create rejects negative", op: repository.OperationCreate,
			sc: repository.SecurityContext{Auth: user("u1"), Path: "items/a", Request: map[string]interface{}{"value": int64(-1)}}},
		{name: "create without the field fails closed", op: repository.OperationCreate,
			sc: repository.SecurityContext{Auth: user("u1"), Path: "items/a", Request: map[string]interface{}{}}},
		{name: "owner updates", op: repository.OperationUpdate,
			sc:      repository.SecurityContext{Auth: user("u1"), Path: "items/a", Resource: map[string]interface{}{"owner": "u1"}},
			allowed: true},
		{name: "stranger cannot update", op: repository.OperationUpdate,
			sc: repository.SecurityContext{Auth: user("u2"), Path: "items/a", Resource: map[string]interface{}{"owner": "u1"}}},
		{name: "banned writer denied by lower priority rule", op: repository.OperationCreate,
			sc: repository.SecurityContext{Auth: user("banned"), Path: "items/a", Request: map[string]interface{}{"value": int64(1)}}},
		{name: "other collection falls to catch-all", op: repository.OperationGet, sc: repository.SecurityContext{Auth: user("u1"), Path: "other/a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := tt.sc
			res := check(t, e, tt.op, &sc)
			assert.Equal(t, tt.allowed, res.Allowed, res.Reason)
		})
	}
}

func TestEngine_ExistsUsesResourceAccessor(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	e := newEngine(t)

	sc := &repository.SecurityContext{Auth: user("u1"), Path: "items/a"}
	res := check(t, e, repository.OperationDelete, sc)
	assert.False(t, res.Allowed, "no accessor means exists() errors and the allow fails")

	e.SetResourceAccessor(NewStoreAccessor(store))
	assert.False(t, check(t, e, repository.OperationDelete, sc).Allowed)

	w, err := model.NewSetWrite("u1", map[string]interface{}{})
	require.NoError(t, err)
	_, err = store.Commit(ctx, "owners", []model.Write{w})
	require.NoError(t, err)
	res = check(t, e, repository.OperationDelete, sc)
	assert.True(t, res.Allowed)
	assert.Equal(t, "items/{itemId}", res.AllowedBy)
}

func TestEngine_GetFunction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	w, err := model.NewSetWrite("u1", map[string]interface{}{"role": "admin"})
	require.NoError(t, err)
	_, err = store.Commit(ctx, "users", []model.Write{w})
	require.NoError(t, err)

	e, err := NewEngine(nil)
	require.NoError(t, err)
	e.SetResourceAccessor(NewStoreAccessor(store))
	require.NoError(t, e.ReplaceRules([]*repository.SecurityRule{{
		Match: "items/{id}",
		Allow: map[repository.OperationType]string{repository.OperationWrite: "get('users/' + auth.uid).data.role == 'admin'"},
	}}))

	assert.True(t, check(t, e, repository.OperationUpdate, &repository.SecurityContext{Auth: user("u1"), Path: "items/a"}).Allowed)
	assert.False(t, check(t, e, repository.OperationUpdate, &repository.SecurityContext{Auth: user("u2"), Path: "items/a"}).Allowed)
}

func TestEngine_ReplaceRulesRejectsInvalid(t *testing.T) {
	e := newEngine(t)
	bad := []*repository.SecurityRule{
		{Match: "", Allow: map[repository.OperationType]string{repository.OperationRead: "true"}},
		{Match: "items/{id}"},
		{Match: "items/{bad-name}", Allow: map[repository.OperationType]string{repository.OperationRead: "true"}},
		{Match: "{rest=**}/items", Allow: map[repository.OperationType]string{repository.OperationRead: "true"}},
		{Match: "items/{id}", Allow: map[repository.OperationType]string{"publish": "true"}},
		{Match: "items/{id}", Allow: map[repository.OperationType]string{repository.OperationRead: "auth.uid +"}},
		{Match: "items/{id}", Allow: map[repository.OperationType]string{repository.OperationRead: "'not a bool'"}},
	}
	for _, rule := range bad {
		assert.Error(t, e.ReplaceRules([]*repository.SecurityRule{rule}), rule.Match)
	}
	assert.Len(t, e.Rules(), 2, "a rejected set leaves the installed rules alone")
	assert.Equal(t, 10, e.Rules()[0].Priority)
}

func TestPattern_Match(t *testing.T) {
	p, err := compilePattern("items/{itemId}")
	require.NoError(t, err)

	vars, ok := p.match("items/a", false)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"itemId": "a"}, vars)

	_, ok = p.match("items", true)
	assert.True(t, ok)
	_, ok = p.match("items", false)
	assert.False(t, ok)
	_, ok = p.match("other/a", false)
	assert.False(t, ok)
	_, ok = p.match("items/a/sub/b", false)
	assert.False(t, ok)

	rec, err := compilePattern("{path=**}")
	require.NoError(t, err)
	vars, ok = rec.match("items/a", false)
	require.True(t, ok)
	assert.Equal(t, "items/a", vars["path"])
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rules":[{"match":"items/{id}","allow":{"read":"true"}}]}`), 0o600))
	rules, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "true", rules[0].Allow[repository.OperationRead])

	require.NoError(t, os.WriteFile(path, []byte(`{"rules":[{"match":"x","allowed":{}}]}`), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
