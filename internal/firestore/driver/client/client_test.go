package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	authusecase "firestore-driver/internal/auth/usecase"
	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/client"
	"firestore-driver/internal/firestore/drivertest"
	"firestore-driver/internal/firestore/fixture"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/valyala/fasthttp"
)

func TestConformance(t *testing.T) {
	drivertest.RunConformanceTests(t, drivertest.ClientHarness(drivertest.MemoryStore))
}

func TestConformanceMongo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB conformance in short mode")
	}
	drivertest.RunConformanceTests(t, drivertest.ClientHarness(drivertest.MongoStore))
}

func TestNew(t *testing.T) {
	for _, cfg := range []client.Config{
		{ProjectID: "p"},
		{BaseURL: "ftp://example.com", ProjectID: "p"},
		{BaseURL: "http://", ProjectID: "p"},
		{BaseURL: "http://localhost:8080"},
	} {
		_, err := client.New(cfg)
		assert.Error(t, err, "%+v", cfg)
	}

	d, err := client.New(client.Config{BaseURL: "https://example.com/", ProjectID: "p"})
	require.NoError(t, err)
	assert.Equal(t, client.DriverName, d.Name())
	caps := d.Capabilities()
	assert.Equal(t, 1, caps.MaxInequalityFields)
	assert.True(t, caps.EnforcesRules)
	assert.False(t, caps.ServerTimestamps)
}

func TestUnreachableGateway(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d, err := client.New(client.Config{BaseURL: "http://" + addr, ProjectID: "p", Timeout: 2 * time.Second})
	require.NoError(t, err)
	coll := d.Collection("items")

	_, err = coll.Get(context.Background(), "a")
	assert.True(t, apperrors.IsBackendUnavailable(err), "got %v", err)
	_, err = coll.Query(context.Background(), model.QuerySpec{})
	assert.True(t, apperrors.IsBackendUnavailable(err), "got %v", err)
}

func TestRequestIDIsForwarded(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	seen := make(chan string, 1)
	srv := &fasthttp.Server{Handler: func(c *fasthttp.RequestCtx) {
		seen <- string(c.Request.Header.Peek("X-Request-ID"))
		c.SetStatusCode(fasthttp.StatusNotFound)
		c.SetContentType("application/json")
		c.SetBodyString(`{"error":{"code":404,"message":"not found","status":"NOT_FOUND"}}`)
	}}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	d, err := client.New(client.Config{BaseURL: "http://" + ln.Addr().String(), ProjectID: "p", Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer d.Close()

	snap, err := d.Collection("items").Get(utils.WithRequestID(context.Background(), "req-42"), "a")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Equal(t, "req-42", <-seen)
}

type GatewaySuite struct {
	suite.Suite
	ctx context.Context
	gw  *drivertest.Gateway
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctx = context.Background()
	gw, err := drivertest.StartGateway(s.ctx, s.T(), drivertest.MemoryStore)
	s.Require().NoError(err)
	s.gw = gw
}

func (s *GatewaySuite) driver(uid string) *client.Driver {
	token := ""
	if uid != "" {
		var err error
		token, err = s.gw.Token(s.ctx, uid)
		s.Require().NoError(err)
	}
	d, err := s.gw.Client(token)
	s.Require().NoError(err)
	s.T().Cleanup(func() { d.Close() })
	return d
}

func (s *GatewaySuite) TestSignInWithPassword() {
	_, _, err := s.gw.Auth.GetUsecase().SignUp(s.ctx, authusecase.SignUpRequest{
		Email:    "ada@example.com",
		Password: "correct-horse",
	})
	s.Require().NoError(err)

	d := s.driver("")
	_, err = d.Collection("items").Set(s.ctx, "a", map[string]interface{}{"value": 1})
	s.True(apperrors.IsPermissionDenied(err), "anonymous write: %v", err)

	_, err = d.SignInWithPassword(s.ctx, "ada@example.com", "wrong-password")
	s.True(apperrors.IsPermissionDenied(err), "bad password: %v", err)

	resp, err := d.SignInWithPassword(s.ctx, "ada@example.com", "correct-horse")
	s.Require().NoError(err)
	s.NotEmpty(resp.IDToken)
	s.Equal("ada@example.com", resp.Email)

	_, err = d.Collection("items").Set(s.ctx, "a", map[string]interface{}{"value": 1})
	s.NoError(err, "the signed-in token is used for later calls")
}

func (s *GatewaySuite) TestInvalidTokenIsDenied() {
	d, err := s.gw.Client("not-a-jwt")
	s.Require().NoError(err)
	defer d.Close()
	_, err = d.Collection("items").Get(s.ctx, "a")
	s.True(apperrors.IsPermissionDenied(err), "got %v", err)
}

func (s *GatewaySuite) TestClosedDriver() {
	d := s.driver("closer")
	coll := d.Collection("items")
	s.Require().NoError(d.Close())

	_, err := coll.Get(s.ctx, "a")
	s.True(apperrors.IsBackendUnavailable(err), "got %v", err)
	_, err = coll.(repository.Listener).Listen(s.ctx, model.QuerySpec{})
	s.True(apperrors.IsBackendUnavailable(err), "got %v", err)
}

func (s *GatewaySuite) TestQueryValidatedLocally() {
	coll := s.driver("validator").Collection("items")
	_, err := coll.(repository.Listener).Listen(s.ctx, model.QuerySpec{Filters: []model.Filter{
		model.Where("value", model.OperatorGreaterThan, 0),
		model.Where("name", model.OperatorGreaterThan, "a"),
	}})
	s.True(apperrors.IsUnsupportedQuery(err), "got %v", err)
}

func (s *GatewaySuite) TestAdminAndClientSeeTheSameData() {
	fx, coll := fixture.Setup(s.T(), s.gw.Module.Store, s.driver("parity"))
	s.Require().NoError(fx.Seed(s.ctx, fixture.MockItem{ID: "a", Value: 1}))
	adminColl, err := fx.UseWith(s.gw.Module.AdminDriver())
	s.Require().NoError(err)

	spec := model.QuerySpec{
		Filters: []model.Filter{model.Where("value", model.OperatorGreaterThan, 0)},
		OrderBy: []model.Order{model.OrderBy("value", model.Ascending)},
	}
	for _, c := range []repository.CollectionReference{coll, adminColl} {
		snaps, err := c.Query(s.ctx, spec)
		s.Require().NoError(err, c.Driver().Name())
		s.Require().Len(snaps, 1, c.Driver().Name())
		s.Equal("a", snaps[0].ID)
		s.Equal(int64(1), snaps[0].Data["value"])
	}
}

func (s *GatewaySuite) TestListenerStopsWithContext() {
	fx, coll := fixture.Setup(s.T(), s.gw.Module.Store, s.driver("listener"))
	s.Require().NoError(fx.Seed(s.ctx, fixture.MockItem{ID: "a", Value: 1}))

	ctx, cancel := context.WithCancel(s.ctx)
	it, err := coll.(repository.Listener).Listen(ctx, model.QuerySpec{})
	s.Require().NoError(err)
	defer it.Stop()

	first, err := it.Next()
	s.Require().NoError(err)
	s.Len(first.Docs, 1)

	cancel()
	_, err = it.Next()
	s.ErrorIs(err, repository.ErrListenerStopped)
}

func TestListenerDeniedForAnonymous(t *testing.T) {
	ctx := context.Background()
	gw, err := drivertest.StartGateway(ctx, t, drivertest.MemoryStore)
	require.NoError(t, err)
	anon, err := gw.Client("")
	require.NoError(t, err)
	defer anon.Close()

	it, err := anon.Collection("items").(repository.Listener).Listen(ctx, model.QuerySpec{})
	require.NoError(t, err, "rules are checked when the stream opens")
	defer it.Stop()
	_, err = it.Next()
	assert.True(t, apperrors.IsPermissionDenied(err), "got %v", err)
}
