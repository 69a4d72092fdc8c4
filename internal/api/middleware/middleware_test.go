package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantStatus  int
		wantOrigin  string
		credentials string
	}{
		{
			name:       "wildcard preflight",
			method:     "OPTIONS",
			origin:     "http://localhost:3000",
			wantStatus: http.StatusNoContent,
			wantOrigin: "*",
		},
		{
			name:        "listed origin",
			origins:     []string{"http://console.local"},
			method:      "GET",
			origin:      "http://console.local",
			wantStatus:  http.StatusOK,
			wantOrigin:  "http://console.local",
			credentials: "true",
		},
		{
			name:       "unlisted origin",
			origins:    []string{"http://console.local"},
			method:     "GET",
			origin:     "http://evil.local",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORS(DefaultCORSConfig(tt.origins...)))
			router.GET("/v1/device", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/v1/device", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == "OPTIONS" {
				req.Header.Set("Access-Control-Request-Method", "GET")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func newTokens(t *testing.T) (*permission.Tokens, string) {
	t.Helper()
	tokens := permission.NewTokens()
	token, err := tokens.AddSecret(appmanager.Caller{ID: "mail", BundleName: "com.example.mail"}, "hunter2", bcrypt.MinCost)
	require.NoError(t, err)
	return tokens, token
}

func TestAuthenticate(t *testing.T) {
	tokens, token := newTokens(t)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCaller string
	}{
		{"anonymous", "", http.StatusOK, ""},
		{"valid token", "Bearer " + token, http.StatusOK, "mail"},
		{"wrong secret", "Bearer mail.nope", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"malformed token", "Bearer nodot", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(Authenticate(tokens))
			router.GET("/whoami", func(c *gin.Context) {
				c.String(http.StatusOK, appmanager.CallerFrom(c.Request.Context()).ID)
			})

			req := httptest.NewRequest("GET", "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if w.Code == http.StatusOK {
				assert.Equal(t, tt.wantCaller, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"code":201`)
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	tokens, token := newTokens(t)

	router := gin.New()
	router.Use(Authenticate(tokens))
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))
	router.GET("/v1/device", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(header string) int {
		req := httptest.NewRequest("GET", "/v1/device", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("Bearer "+token))
	assert.Equal(t, http.StatusOK, do("Bearer "+token))
	assert.Equal(t, http.StatusTooManyRequests, do("Bearer "+token))

	// Anonymous requests from the same IP have their own bucket.
	assert.Equal(t, http.StatusOK, do(""))
}
