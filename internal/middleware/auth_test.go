package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"sui-lending-api/internal/models"
	"sui-lending-api/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// stubAuth validates keys against an in-memory map.
type stubAuth struct {
	keys map[string]*models.APIKey
}

func (s *stubAuth) ValidateAPIKey(key string) (*models.APIKey, error) {
	if k, ok := s.keys[key]; ok {
		if !k.Active {
			return nil, services.ErrInactiveAPIKey
		}
		return k, nil
	}
	return nil, services.ErrInvalidAPIKey
}

func newAuthEngine(auth services.AuthServiceInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(AuthMiddleware(auth))
	engine.GET("/api/market-data", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.POST("/api/transactions/borrow", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func doRequest(engine *gin.Engine, method, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

func TestAuthMiddleware(t *testing.T) {
	auth := &stubAuth{keys: map[string]*models.APIKey{
		"full-key": {
			ID:          primitive.NewObjectID(),
			Key:         "full-key",
			Name:        "gateway",
			Active:      true,
			Permissions: []string{models.PermissionRead, models.PermissionBuild},
		},
		"read-key": {
			ID:          primitive.NewObjectID(),
			Key:         "read-key",
			Name:        "dashboard",
			Active:      true,
			Permissions: []string{models.PermissionRead},
		},
		"legacy-key": {
			ID:     primitive.NewObjectID(),
			Key:    "legacy-key",
			Name:   "legacy",
			Active: true,
		},
		"revoked-key": {
			ID:     primitive.NewObjectID(),
			Key:    "revoked-key",
			Name:   "revoked",
			Active: false,
		},
	}}
	engine := newAuthEngine(auth)

	t.Run("MissingHeader", func(t *testing.T) {
		recorder := doRequest(engine, http.MethodGet, "/api/market-data", "")
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "MISSING_API_KEY")
	})

	t.Run("InvalidKey", func(t *testing.T) {
		recorder := doRequest(engine, http.MethodGet, "/api/market-data", "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "INVALID_API_KEY")
	})

	t.Run("InactiveKey", func(t *testing.T) {
		recorder := doRequest(engine, http.MethodGet, "/api/market-data", "Bearer revoked-key")
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "INACTIVE_API_KEY")
	})

	t.Run("FullKeyBuilds", func(t *testing.T) {
		recorder := doRequest(engine, http.MethodPost, "/api/transactions/borrow", "Bearer full-key")
		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("ReadOnlyKeyReads", func(t *testing.T) {
		recorder := doRequest(engine, http.MethodGet, "/api/market-data", "Bearer read-key")
		assert.Equal(t, http.StatusOK, recorder.Code)
	})

	t.Run("ReadOnlyKeyCannotBuild", func(t *testing.T) {
		recorder := doRequest(engine, http.MethodPost, "/api/transactions/borrow", "Bearer read-key")
		assert.Equal(t, http.StatusForbidden, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "INSUFFICIENT_PERMISSIONS")
	})

	t.Run("LegacyKeyKeepsFullAccess", func(t *testing.T) {
		// Keys created before the permission model carry no list and are
		// not locked out.
		recorder := doRequest(engine, http.MethodPost, "/api/transactions/borrow", "Bearer legacy-key")
		assert.Equal(t, http.StatusOK, recorder.Code)
	})
}
