package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func perform(r *gin.Engine, method, path string, hdrs map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID_GeneratedAndPropagated(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := perform(r, http.MethodGet, "/", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing generated request id")
	}

	w = perform(r, http.MethodGet, "/", map[string]string{"X-Request-ID": "abc-123"})
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("request id = %q, want propagated abc-123", got)
	}
}

func TestRecovery_TurnsPanicInto500(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := perform(r, http.MethodGet, "/boom", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestIdempotencyValidator_HeaderValidation(t *testing.T) {
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 10}, nil))
	r.POST("/posts/:id/merge", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": key, "present": ok, "replay": IsReplay(c)})
	})

	// No header: passes through without a key.
	w := perform(r, http.MethodPost, "/posts/1/merge", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"present":false`) {
		t.Fatalf("no header = %d %s", w.Code, w.Body.String())
	}

	// Over-long and malformed keys are rejected up front.
	for _, bad := range []string{"12345678901", "spaces not ok", "emoji💥"} {
		w = perform(r, http.MethodPost, "/posts/1/merge", map[string]string{HeaderIdempotencyKey: bad})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q status = %d, want 400", bad, w.Code)
		}
		if !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q body = %s", bad, w.Body.String())
		}
	}

	// A valid key is normalized into the context.
	w = perform(r, http.MethodPost, "/posts/1/merge", map[string]string{HeaderIdempotencyKey: "retry-1"})
	if !strings.Contains(w.Body.String(), `"key":"retry-1"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestIdempotencyValidator_ReplayDetection(t *testing.T) {
	var gotUser, gotPost int64
	lookup := func(_ context.Context, userID, postID int64, key string, _ time.Time) (bool, error) {
		gotUser, gotPost = userID, postID
		return key == "seen-before", nil
	}

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", int64(42)); c.Next() })
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/posts/:id/merge", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"replay": IsReplay(c), "bypass": IsRateBypass(c)})
	})

	w := perform(r, http.MethodPost, "/posts/7/merge", map[string]string{HeaderIdempotencyKey: "seen-before"})
	if !strings.Contains(w.Body.String(), `"replay":true`) || !strings.Contains(w.Body.String(), `"bypass":true`) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if gotUser != 42 || gotPost != 7 {
		t.Fatalf("lookup scope = user %d post %d", gotUser, gotPost)
	}

	w = perform(r, http.MethodPost, "/posts/7/merge", map[string]string{HeaderIdempotencyKey: "fresh"})
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestRateLimiter_EnforcesAndBypasses(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if w := perform(r, http.MethodGet, "/", nil); w.Code != http.StatusNoContent {
		t.Fatalf("first request = %d", w.Code)
	}
	w := perform(r, http.MethodGet, "/", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}

	// A replayed idempotent request skips the bucket entirely.
	r2 := gin.New()
	r2.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	r2.Use(rl.Handler())
	r2.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if w := perform(r2, http.MethodGet, "/", nil); w.Code != http.StatusNoContent {
		t.Fatalf("bypassed request = %d", w.Code)
	}
}

func TestKeyByUserOrIP(t *testing.T) {
	fn := KeyByUserOrIP()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := fn(c); !strings.HasPrefix(got, "ip:") {
		t.Fatalf("anonymous key = %q, want ip-prefixed", got)
	}

	c.Set("userID", int64(5))
	if got := fn(c); got != "user:5" {
		t.Fatalf("authenticated key = %q, want user:5", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.Use(SecurityHeaders(SecurityOptions{EnableHSTS: true, NoStore: true, EnablePolicy: true}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := perform(r, http.MethodGet, "/", nil)
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("Permissions-Policy") == "" {
		t.Fatal("missing Permissions-Policy")
	}
	// Plain HTTP never gets HSTS.
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be set over plain HTTP")
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Request-ID") {
		t.Fatalf("expose headers = %q", got)
	}

	// Forwarded HTTPS turns HSTS on.
	w = perform(r, http.MethodGet, "/", map[string]string{"X-Forwarded-Proto": "https"})
	if got := w.Header().Get("Strict-Transport-Security"); !strings.Contains(got, "max-age=") {
		t.Fatalf("hsts = %q", got)
	}
}

func TestObserveModeration_Smoke(t *testing.T) {
	// Label combinations must not panic or collide.
	ObserveModeration("edit", OutcomeOK)
	ObserveModeration("merge", OutcomeValidationFailed)
	ObserveModeration("delete", OutcomeError)
}
