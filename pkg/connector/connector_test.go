package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

func TestMockConnector_Echo(t *testing.T) {
	reg := NewRegistry(nil, time.Second)
	c, err := reg.Build(Config{Type: "mock"})
	require.NoError(t, err)

	res := c.Execute(context.Background(), map[string]interface{}{"to": "x@y.z"})
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.ResultHash)
}

func TestMockConnector_ForcedFailure(t *testing.T) {
	reg := NewRegistry(nil, time.Second)
	c, err := reg.Build(Config{Type: "mock", MockFail: true, MockFailCode: gwerr.CodeUnknownError})
	require.NoError(t, err)

	res := c.Execute(context.Background(), nil)
	assert.False(t, res.Success)
	assert.Equal(t, gwerr.CodeUnknownError, res.Error.Code)
}

func TestGenericHTTP_DomainNotAllowed(t *testing.T) {
	reg := NewRegistry([]string{"example.com"}, time.Second)
	c, err := reg.Build(Config{Type: "generic-http", URL: "https://evil.net/x", Method: http.MethodPost})
	require.NoError(t, err)

	res := c.Execute(context.Background(), map[string]interface{}{})
	assert.True(t, res.Success == false)
	assert.Equal(t, gwerr.CodeDomainNotAllowed, res.Error.Code)
}

func TestGenericHTTP_EmptyAllowListDeniesEverything(t *testing.T) {
	reg := NewRegistry(nil, time.Second)
	c, err := reg.Build(Config{Type: "generic-http", URL: "https://example.com/x"})
	require.NoError(t, err)

	res := c.Execute(context.Background(), map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Equal(t, gwerr.CodeDomainNotAllowed, res.Error.Code)
}

func TestGenericHTTP_URLTemplateSubstitution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	host := srv.Listener.Addr().String()
	reg := NewRegistry([]string{splitHost(host)}, time.Second)
	c, err := reg.Build(Config{Type: "generic-http", URL: srv.URL + "/users/{id}", Method: http.MethodGet})
	require.NoError(t, err)

	res := c.Execute(context.Background(), map[string]interface{}{"id": "42"})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["ok"])
}

func TestWebhookConnector_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	host := splitHost(srv.Listener.Addr().String())
	reg := NewRegistry([]string{host}, time.Millisecond)
	c, err := reg.Build(Config{Type: "webhook", URL: srv.URL})
	require.NoError(t, err)

	res := c.Execute(context.Background(), map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Equal(t, gwerr.CodeTimeout, res.Error.Code)
}

func splitHost(hostport string) string {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i]
		}
	}
	return hostport
}
