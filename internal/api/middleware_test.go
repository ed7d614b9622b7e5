package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fotobank/media-api/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, userID primitive.ObjectID, role domain.Role, expiresIn time.Duration) string {
	t.Helper()
	claims := &jwtClaims{
		UserID: userID.Hex(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.Hex(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    "fotobank",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newProtectedRouter(middlewares ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/", middlewares...)
	group.GET("/protected", func(c *gin.Context) {
		id, err := getUserObjectIDFromContext(c)
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err.Error())
			return
		}
		role, _ := getUserRoleFromContext(c)
		c.JSON(http.StatusOK, gin.H{"userId": id.Hex(), "role": role})
	})
	return router
}

func doGet(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	router := newProtectedRouter(AuthMiddleware(testSecret))
	userID := primitive.NewObjectID()
	token := signToken(t, userID, domain.RoleUser, time.Hour)

	w := doGet(router, "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.Hex())
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	router := newProtectedRouter(AuthMiddleware(testSecret))

	w := doGet(router, "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	router := newProtectedRouter(AuthMiddleware(testSecret))

	for _, header := range []string{"Bearer", "Basic abc", "just-a-token"} {
		w := doGet(router, header)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestAuthMiddlewareRejectsExpiredToken(t *testing.T) {
	router := newProtectedRouter(AuthMiddleware(testSecret))
	token := signToken(t, primitive.NewObjectID(), domain.RoleUser, -time.Hour)

	w := doGet(router, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	router := newProtectedRouter(AuthMiddleware("a-different-secret"))
	token := signToken(t, primitive.NewObjectID(), domain.RoleUser, time.Hour)

	w := doGet(router, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleMiddlewareEnforcesAdmin(t *testing.T) {
	router := newProtectedRouter(AuthMiddleware(testSecret), RoleMiddleware(domain.RoleAdmin))

	userToken := signToken(t, primitive.NewObjectID(), domain.RoleUser, time.Hour)
	w := doGet(router, "Bearer "+userToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminToken := signToken(t, primitive.NewObjectID(), domain.RoleAdmin, time.Hour)
	w = doGet(router, "Bearer "+adminToken)
	assert.Equal(t, http.StatusOK, w.Code)
}
