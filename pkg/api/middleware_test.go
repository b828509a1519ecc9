package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amakua/uapk-gateway/pkg/auth"
)

func TestRateLimitMiddleware(t *testing.T) {
	// Setup limiter: 1 req/sec, burst 2
	limiter := NewGlobalRateLimiter(1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ts := httptest.NewServer(handler)
	defer ts.Close()

	client := ts.Client()

	// Bursts: 2 allowed immediately
	for i := 0; i < 2; i++ {
		resp, err := client.Get(ts.URL)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		assert.Equal(t, http.StatusOK, resp.StatusCode, "Within burst limit")
		assert.NoError(t, resp.Body.Close())
	}

	// 3rd request should fail (burst checks happen instantly so tokens consumed)
	// Or maybe slightly delayed? rate.Limiter creates tokens over time.
	// With Limit 1, it takes 1 sec to get token.
	// So 3rd request immediately after should fail.
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "Exceeded burst")
	assert.NoError(t, resp.Body.Close())

	// Wait 1.1s for token refill
	time.Sleep(1100 * time.Millisecond)

	// 4th request should succeed
	resp, err = client.Get(ts.URL)
	if err != nil {
		t.Fatalf("Request 4 failed: %v", err)
	}
	assert.Equal(t, http.StatusOK, resp.StatusCode, "Refilled token")
	assert.NoError(t, resp.Body.Close())
}

func TestWithContextRateLimit_NoPrincipalPassesThrough(t *testing.T) {
	rl := NewOrgRateLimiter(1, 1)
	handler := rl.WithContextRateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/orgs/org-1/manifests", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWithContextRateLimit_ThrottlesPerOrg(t *testing.T) {
	rl := NewOrgRateLimiter(1, 1)
	handler := rl.WithContextRateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	withPrincipal := func() *http.Request {
		req := httptest.NewRequest("GET", "/orgs/org-1/manifests", nil)
		ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", OrgID: "org-1", Role: auth.RoleViewer})
		return req.WithContext(ctx)
	}

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, withPrincipal())
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, withPrincipal())
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}
