package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/model"
	"storefront/internal/store/storetest"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUsers map[uint]*model.User

func (f fakeUsers) Get(_ context.Context, id uint) (*model.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return u, nil
}

var users = fakeUsers{
	1: {ID: 1, Role: model.RoleCustomer, IsActive: true},
	2: {ID: 2, Role: model.RoleSeller, IsActive: true},
	3: {ID: 3, Role: model.RoleSeller},
}

func serve(r *gin.Engine, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdentityAndCapability(t *testing.T) {
	r := gin.New()
	r.GET("/x", Identity(users, true), RequireCapability(auth.CapManageProducts), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", CurrentUser(c).ID)
	})

	tests := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"abc", http.StatusUnauthorized},
		{"99", http.StatusUnauthorized},
		{"3", http.StatusForbidden},
		{"1", http.StatusForbidden},
		{"2", http.StatusOK},
	}
	for _, tt := range tests {
		w := serve(r, tt.header)
		require.Equal(t, tt.status, w.Code, "header %q", tt.header)
	}
	require.Equal(t, "2", serve(r, "2").Body.String())
}

func TestIdentityOptional(t *testing.T) {
	r := gin.New()
	r.GET("/x", Identity(users, false), func(c *gin.Context) {
		if CurrentUser(c) == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, "known")
	})
	require.Equal(t, "anonymous", serve(r, "").Body.String())
	require.Equal(t, "known", serve(r, "1").Body.String())
	require.Equal(t, http.StatusForbidden, serve(r, "3").Code)
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()))
	r.GET("/x", func(c *gin.Context) { panic("boom") })

	w := serve(r, "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotEmpty(t, w.Header().Get(HeaderRequestID))

	r.GET("/y", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })
	req := httptest.NewRequest(http.MethodGet, "/y", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	rdb, prefix := storetest.Redis(t)
	r := gin.New()
	r.GET("/x", Identity(users, false), RateLimit(rdb, prefix, "checkout", 2, time.Minute, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	first := serve(r, "1")
	require.Equal(t, http.StatusNoContent, first.Code)
	require.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, http.StatusNoContent, serve(r, "1").Code)

	limited := serve(r, "1")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(limited.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.InDelta(t, 60, retry, 1)
	// 不同用户各自计数
	require.Equal(t, http.StatusNoContent, serve(r, "2").Code)
}
