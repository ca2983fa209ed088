package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func secretRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SharedSecretAuth(secret))
	r.POST("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doRequest(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSharedSecretAuthAccepts(t *testing.T) {
	r := secretRouter("relay-secret")
	w := doRequest(r, "Bearer relay-secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSharedSecretAuthRejectsWrongSecret(t *testing.T) {
	r := secretRouter("relay-secret")
	w := doRequest(r, "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

func TestSharedSecretAuthRejectsMissingHeader(t *testing.T) {
	r := secretRouter("relay-secret")
	w := doRequest(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSharedSecretAuthRejectsNonBearer(t *testing.T) {
	r := secretRouter("relay-secret")
	w := doRequest(r, "Basic cmVsYXktc2VjcmV0")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
