package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"zhicuoti/internal/app/service"
	"zhicuoti/internal/common"
	"zhicuoti/internal/common/security"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/domain/repository/memrepo"
	"zhicuoti/internal/platform/config"
	"zhicuoti/internal/platform/events"
	"zhicuoti/internal/platform/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLocker struct{}

func (nopLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

type staticObjects map[string][]byte

func (s staticObjects) Get(_ context.Context, key string) (*storage.Object, error) {
	data, ok := s[key]
	if !ok {
		return nil, common.NotFound("file %s not found", key)
	}
	return &storage.Object{Body: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data)), ContentType: storage.ContentType(key)}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zerolog.Nop()
	store := memrepo.NewStore()
	tokens := security.NewTokenManager([]byte("test-secret"), time.Hour)

	classService := service.NewClassService(store.Classes(), store.Users(), store.Transactor(), nopLocker{}, events.Nop{}, log)
	subjectService := service.NewSubjectService(store.Subjects(), store.Tags(), store.Users(), log)
	require.NoError(t, subjectService.EnsureDefaults(context.Background()))

	svc := Services{
		Auth:    service.NewAuthService(store.Users(), store.Classes(), store.Subjects(), tokens),
		User:    service.NewUserService(store.Users(), store.Subjects()),
		Class:   classService,
		Subject: subjectService,
		Tag:     service.NewTagService(store.Tags(), store.Problems(), store.OCR()),
		Problem: service.NewProblemService(service.ProblemServiceDeps{
			ProblemRepo: store.Problems(),
			OCRRepo:     store.OCR(),
			TagRepo:     store.Tags(),
			SubjectRepo: store.Subjects(),
			Tx:          store.Transactor(),
			Events:      events.Nop{},
		}, log),
		Analyze: service.NewAnalyzeService(service.AnalyzeServiceDeps{
			AnalyticsRepo: store.Analytics(),
			ProblemRepo:   store.Problems(),
			OCRRepo:       store.OCR(),
			SubjectRepo:   store.Subjects(),
			TagRepo:       store.Tags(),
			UserRepo:      store.Users(),
			ClassRepo:     store.Classes(),
			Classes:       classService,
		}, log),
	}
	objects := staticObjects{"boxes/abc.png": []byte("png-bytes")}

	router := NewRouter(config.ServerConfig{APIPrefix: "/api", MaxUploadSize: 1 << 20}, config.CORSConfig{}, tokens, svc, objects, log)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c *client) do(method, path string, body any) (*http.Response, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, data
}

func (c *client) decode(method, path string, body any, out any) {
	c.t.Helper()
	resp, data := c.do(method, path, body)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(data))
	if out != nil {
		require.NoError(c.t, json.Unmarshal(data, out))
	}
}

// signUp registers the user and logs in through the password form.
func signUp(t *testing.T, base, name, role, phone string) *client {
	t.Helper()
	anon := &client{t: t, base: base}
	anon.decode(http.MethodPost, "/api/auth/register", map[string]string{
		"name": name, "role": role, "password": "secret", "phone_number": phone,
	}, nil)

	form := url.Values{"username": {phone}, "password": {"secret"}}
	resp, err := http.Post(base+"/api/auth/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token service.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	assert.Equal(t, "bearer", token.TokenType)
	return &client{t: t, base: base, token: token.AccessToken}
}

func TestRouter_ClassEnrollmentFlow(t *testing.T) {
	srv := newTestServer(t)
	teacher := signUp(t, srv.URL, "Teacher Li", "teacher", "13800000001")
	student := signUp(t, srv.URL, "Student Zhang", "student", "13800000002")

	var class model.Class
	teacher.decode(http.MethodPost, "/api/class/", map[string]string{"name": "Class 1"}, &class)
	require.NotEmpty(t, class.ID)

	var code service.InvitationCodeResponse
	teacher.decode(http.MethodGet, "/api/class/"+class.ID+"/invitation-code", nil, &code)
	assert.Len(t, code.InvitationCode, service.InvitationCodeLength)

	var joined model.Class
	student.decode(http.MethodPost, "/api/class/join?invitation_code="+code.InvitationCode, nil, &joined)
	assert.Equal(t, class.ID, joined.ID)

	var members model.ClassWithMembers
	teacher.decode(http.MethodGet, "/api/class/"+class.ID, nil, &members)
	require.Len(t, members.Students, 1)
	assert.Equal(t, "Student Zhang", members.Students[0].Name)
	require.Len(t, members.Teachers, 1)
	assert.Equal(t, "Teacher Li", members.Teachers[0].Name)

	var me model.UserMe
	student.decode(http.MethodGet, "/api/auth/me", nil, &me)
	require.NotNil(t, me.Class)
	assert.Equal(t, class.ID, me.Class.ID)

	resp, body := student.do(http.MethodDelete, "/api/class/"+class.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var errBody common.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, common.KindForbidden, errBody.Type)

	resp, _ = student.do(http.MethodPost, "/api/class/join?invitation_code=ZZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_AuthErrors(t *testing.T) {
	srv := newTestServer(t)
	anon := &client{t: t, base: srv.URL}

	resp, body := anon.do(http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "could not validate credentials")

	bogus := &client{t: t, base: srv.URL, token: "not.a.jwt"}
	resp, _ = bogus.do(http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	signUp(t, srv.URL, "Student", "student", "13800000003")
	resp, body = anon.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Again", "role": "student", "password": "x", "phone_number": "13800000003",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), common.KindInvalidPayload)

	resp, _ = anon.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "13800000003", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = anon.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Long", "role": "student", "password": strings.Repeat("密", 30), "phone_number": "13800000009",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "password must be at most 72 bytes")
}

func TestRouter_TeacherOnlyRoutes(t *testing.T) {
	srv := newTestServer(t)
	student := signUp(t, srv.URL, "Student", "student", "13800000004")

	resp, _ := student.do(http.MethodPost, "/api/class/", map[string]string{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	teacher := signUp(t, srv.URL, "Teacher", "teacher", "13800000005")
	resp, _ = teacher.do(http.MethodGet, "/api/problem/my", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRouter_PublicRoutes(t *testing.T) {
	srv := newTestServer(t)
	anon := &client{t: t, base: srv.URL}

	resp, body := anon.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, body = anon.do(http.MethodGet, "/api/static/boxes/abc.png", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png-bytes", string(body))

	resp, _ = anon.do(http.MethodGet, "/api/static/boxes/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var tags []model.Tag
	anon.decode(http.MethodGet, "/api/tag/", nil, &tags)
	assert.Empty(t, tags)

	var endpoints []struct {
		Method string `json:"method"`
		Path   string `json:"path"`
	}
	anon.decode(http.MethodGet, "/api/utils/endpoints/", nil, &endpoints)
	found := false
	for _, e := range endpoints {
		if e.Method == http.MethodGet && e.Path == "/api/class/{classID}/invitation-code" {
			found = true
		}
	}
	assert.True(t, found, "endpoint listing includes class routes")
}
