package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testKeyID      = "fileshare-test"
	testAdminScope = "fileshare:admin"
)

// testIssuer — локальный провайдер токенов: RSA-ключ и JWTAuth с его JWKS.
type testIssuer struct {
	key  *rsa.PrivateKey
	auth *JWTAuth
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	jwks, err := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatalf("keyfunc из JWKS: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testIssuer{key: key, auth: NewJWTAuthWithKeyfunc(kf, 0, logger)}
}

// bearer подписывает токен и возвращает значение заголовка Authorization.
// ttl < 0 — просроченный токен.
func (i *testIssuer) bearer(t *testing.T, sub, scope string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		ScopeString: scope,
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(i.key)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + signed
}

// subjectRecorder — конечный handler, запоминающий sub из контекста.
type subjectRecorder struct {
	called  bool
	subject string
}

func (s *subjectRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.called = true
	s.subject = SubjectFromContext(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func serve(h func(http.Handler) http.Handler, method, path, authorization string) (*httptest.ResponseRecorder, *subjectRecorder) {
	next := &subjectRecorder{}
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h(next).ServeHTTP(rec, req)
	return rec, next
}

func TestClaims_Scopes(t *testing.T) {
	c := Claims{ScopeString: "openid  fileshare:admin", ScopeArray: []string{"files:read"}}

	got := c.Scopes()
	want := []string{"openid", "fileshare:admin", "files:read"}
	if len(got) != len(want) {
		t.Fatalf("scopes: хотели %v, получили %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scopes[%d]: хотели %q, получили %q", i, want[i], got[i])
		}
	}
}

// Загрузка доступна анонимно, токен лишь определяет владельца файла.
func TestJWTAuth_OptionalOnUpload(t *testing.T) {
	iss := newTestIssuer(t)

	tests := []struct {
		name          string
		authorization string
		wantStatus    int
		wantOwner     string
	}{
		{"анонимная загрузка", "", http.StatusNoContent, ""},
		{"владелец из sub", iss.bearer(t, "alice", "", time.Hour), http.StatusNoContent, "alice"},
		{"просроченный токен", iss.bearer(t, "alice", "", -time.Hour), http.StatusUnauthorized, ""},
		{"токен без sub", iss.bearer(t, "", "", time.Hour), http.StatusUnauthorized, ""},
		{"мусор вместо JWT", "Bearer garbage", http.StatusUnauthorized, ""},
		{"схема Basic", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, ""},
		{"пустой Bearer", "Bearer   ", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, next := serve(iss.auth.Optional(), http.MethodPost, "/files/upload", tt.authorization)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус: хотели %d, получили %d", tt.wantStatus, rec.Code)
			}
			if next.subject != tt.wantOwner {
				t.Errorf("владелец: хотели %q, получили %q", tt.wantOwner, next.subject)
			}
		})
	}
}

func TestJWTAuth_MiddlewareRejectsAnonymous(t *testing.T) {
	iss := newTestIssuer(t)

	rec, next := serve(iss.auth.Middleware(), http.MethodPost, "/admin/purge", "")
	if rec.Code != http.StatusUnauthorized || next.called {
		t.Errorf("без токена: хотели 401, получили %d (handler вызван: %v)", rec.Code, next.called)
	}

	rec, next = serve(iss.auth.Middleware(), http.MethodPost, "/admin/purge", iss.bearer(t, "ops", "", time.Hour))
	if rec.Code != http.StatusNoContent || next.subject != "ops" {
		t.Errorf("с токеном: хотели 204 и sub=ops, получили %d и %q", rec.Code, next.subject)
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name       string
		scopes     []string
		wantStatus int
	}{
		{"есть scope администратора", []string{"openid", testAdminScope}, http.StatusNoContent},
		{"другие scope", []string{"files:read"}, http.StatusForbidden},
		{"scopes нет в контексте", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.scopes != nil {
				ctx = context.WithValue(ctx, ContextKeyScopes, tt.scopes)
			}
			req := httptest.NewRequest(http.MethodDelete, "/admin/files/abc", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			RequireScope(testAdminScope)(&subjectRecorder{}).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус: хотели %d, получили %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAdminAuth(t *testing.T) {
	iss := newTestIssuer(t)
	const static = "s3cret"

	tests := []struct {
		name          string
		admin         *AdminAuth
		authorization string
		wantStatus    int
		wantSubject   string
	}{
		{"ничего не настроено", NewAdminAuth("", nil, ""), "Bearer " + static, http.StatusForbidden, ""},
		{"статический токен", NewAdminAuth(static, nil, ""), "Bearer " + static, http.StatusNoContent, AdminSubject},
		{"неверный статический токен", NewAdminAuth(static, nil, ""), "Bearer wrong", http.StatusUnauthorized, ""},
		{"без заголовка", NewAdminAuth(static, nil, ""), "", http.StatusUnauthorized, ""},
		{"статический токен при включённом JWT", NewAdminAuth(static, iss.auth, testAdminScope),
			"Bearer " + static, http.StatusNoContent, AdminSubject},
		{"JWT со scope администратора", NewAdminAuth(static, iss.auth, testAdminScope),
			iss.bearer(t, "ops", testAdminScope, time.Hour), http.StatusNoContent, "ops"},
		{"JWT без scope администратора", NewAdminAuth("", iss.auth, testAdminScope),
			iss.bearer(t, "alice", "openid", time.Hour), http.StatusForbidden, ""},
		{"просроченный JWT администратора", NewAdminAuth("", iss.auth, testAdminScope),
			iss.bearer(t, "ops", testAdminScope, -time.Hour), http.StatusUnauthorized, ""},
		{"неверный токен при включённом JWT", NewAdminAuth(static, iss.auth, testAdminScope),
			"Bearer wrong", http.StatusUnauthorized, ""},
		{"без заголовка при включённом JWT", NewAdminAuth("", iss.auth, testAdminScope),
			"", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, next := serve(tt.admin.Middleware(), http.MethodPost, "/admin/purge", tt.authorization)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус: хотели %d, получили %d, тело: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if next.subject != tt.wantSubject {
				t.Errorf("sub: хотели %q, получили %q", tt.wantSubject, next.subject)
			}
		})
	}
}

func TestAdminAuth_Enabled(t *testing.T) {
	iss := newTestIssuer(t)

	if NewAdminAuth("", nil, testAdminScope).Enabled() {
		t.Error("без токена и JWT проверка не должна считаться настроенной")
	}
	if !NewAdminAuth("", iss.auth, testAdminScope).Enabled() {
		t.Error("JWT без статического токена: хотели Enabled")
	}
}

func TestContextAccessors(t *testing.T) {
	if sub := SubjectFromContext(context.Background()); sub != "" {
		t.Errorf("sub пустого контекста: получили %q", sub)
	}
	if scopes := ScopesFromContext(context.Background()); scopes != nil {
		t.Errorf("scopes пустого контекста: получили %v", scopes)
	}

	ctx := context.WithValue(context.Background(), ContextKeySubject, "alice")
	ctx = context.WithValue(ctx, ContextKeyScopes, []string{testAdminScope})
	if sub := SubjectFromContext(ctx); sub != "alice" {
		t.Errorf("sub: хотели alice, получили %q", sub)
	}
	if scopes := ScopesFromContext(ctx); len(scopes) != 1 || scopes[0] != testAdminScope {
		t.Errorf("scopes: получили %v", scopes)
	}
}
