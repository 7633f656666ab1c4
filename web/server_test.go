package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deemkeen/fedigraph/activitypub"
	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/middleware"
	"github.com/deemkeen/fedigraph/notifications"
	"github.com/deemkeen/fedigraph/testrig"
	"github.com/deemkeen/fedigraph/util"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type testServer struct {
	*testrig.Services
	conf   *util.AppConfig
	auth   *middleware.Authenticator
	router *gin.Engine
}

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testrig.Domain
	conf.Conf.WithAp = true
	conf.Conf.Env = "test"
	return conf
}

func newTestServer(t *testing.T, realtime *notifications.RedisPublisher) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	services := testrig.NewServices(t)
	auth, err := middleware.NewAuthenticator("web-test-secret", util.DefaultTokenTTL, services.Clock)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	gateway := activitypub.NewGateway(services.Directory, services.Posts, services.DB, activitypub.Options{
		Domain: testrig.Domain,
		Clock:  services.Clock,
	})

	conf := testConf()
	router := NewRouter(conf, Services{
		Directory: services.Directory,
		Posts:     services.Posts,
		Comments:  services.Comments,
		Fanout:    services.Fanout,
		Gateway:   gateway,
		Auth:      auth,
		Realtime:  realtime,
	}, Limits{Global: rate.Inf, Federation: rate.Inf})

	return &testServer{Services: services, conf: conf, auth: auth, router: router}
}

func (ts *testServer) token(t *testing.T, actor *domain.Actor) string {
	t.Helper()
	token, _, err := ts.auth.IssueToken(actor.Id)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return token
}

type request struct {
	method string
	path   string
	body   any
	token  string
	accept string
}

func (ts *testServer) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	switch b := r.body.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case string:
		body = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(r.method, r.path, body)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
}

func expectErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	body := decode[map[string]string](t, w)
	if body["code"] != code || body["error"] == "" {
		t.Errorf("Expected error code %s, got %v", code, body)
	}
}

func TestRespondErrorHidesServerDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for env, wantDetail := range map[string]bool{"production": false, "development": true} {
		conf := testConf()
		conf.Conf.Env = env
		s := &Server{conf: conf}

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
		s.respondError(c, domain.NewServerError("failed to read post", errSecret))

		expectStatus(t, w, http.StatusInternalServerError)
		body := decode[map[string]string](t, w)
		if body["code"] != "INTERNAL_ERROR" {
			t.Errorf("%s: unexpected code %q", env, body["code"])
		}
		if got := strings.Contains(body["error"], "disk on fire"); got != wantDetail {
			t.Errorf("%s: detail shown = %v, want %v (%q)", env, got, wantDetail, body["error"])
		}
	}
}

func TestRespondErrorKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{conf: testConf()}

	tests := []struct {
		err    error
		status int
		code   string
		msg    string
	}{
		{domain.NewValidationError("handle is required"), http.StatusBadRequest, "VALIDATION_ERROR", "handle is required"},
		{domain.NewUnauthorizedError("invalid handle or password"), http.StatusUnauthorized, "UNAUTHORIZED", "invalid handle or password"},
		{domain.NewForbiddenError("only the author may change this post"), http.StatusForbidden, "FORBIDDEN", "only the author may change this post"},
		{domain.NewNotFoundError("post", "x"), http.StatusNotFound, "NOT_FOUND", "post x not found"},
		{domain.NewConflictError("handle %s is taken", "alice"), http.StatusConflict, "CONFLICT", "handle alice is taken"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
		s.respondError(c, tt.err)

		expectStatus(t, w, tt.status)
		body := decode[map[string]string](t, w)
		if body["code"] != tt.code || body["error"] != tt.msg {
			t.Errorf("Unexpected body %v for %v", body, tt.err)
		}
	}
}

var errSecret = errors.New("disk on fire")
