package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestJWT_SignVerify(t *testing.T) {
	j := JWT{Secret: []byte("s3cret"), TokenTTL: time.Hour}
	tok, exp, err := j.Sign("alice", "")
	if err != nil {
		t.Fatalf("sign err=%v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %s", exp)
	}
	c, err := j.Verify(tok)
	if err != nil {
		t.Fatalf("verify err=%v", err)
	}
	if c.Subject != "alice" || c.Role != RoleOperator {
		t.Fatalf("claims=%+v", c)
	}
	if _, err := (JWT{Secret: []byte("other")}).Verify(tok); err == nil {
		t.Fatalf("expected verify failure with wrong secret")
	}
	if _, _, err := j.Sign("bob", "root"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	j := JWT{Secret: []byte("s3cret"), TokenTTL: time.Hour}
	r := gin.New()
	r.Use(Middleware(j))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/scopes", func(c *gin.Context) { c.String(http.StatusOK, Operator(c, "")) })
	r.POST("/api/v1/override", func(c *gin.Context) { c.Status(http.StatusOK) })

	operator, _, _ := j.Sign("alice", RoleOperator)
	viewer, _, _ := j.Sign("bob", RoleViewer)

	cases := []struct {
		method, path, token string
		want                int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/api/v1/scopes", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/scopes", "garbage", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/scopes", viewer, http.StatusOK},
		{http.MethodPost, "/api/v1/override", viewer, http.StatusForbidden},
		{http.MethodPost, "/api/v1/override", operator, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s %s code=%d want=%d", tc.method, tc.path, w.Code, tc.want)
		}
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(JWT{}))
	r.POST("/api/v1/override", func(c *gin.Context) { c.String(http.StatusOK, Operator(c, "anonymous")) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/override", nil))
	if w.Code != http.StatusOK || w.Body.String() != "anonymous" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}
}
