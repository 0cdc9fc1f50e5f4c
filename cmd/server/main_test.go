package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront/internal/config"
	"storefront/internal/queue"
	"storefront/internal/router"
	"storefront/internal/store/storetest"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildDepsServesRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("DB_DRIVER", "sqlite")
	cfg, err := config.Load()
	require.NoError(t, err)

	// 只构造客户端，不会拨号
	rdb := rd.NewClient(&rd.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	log := zerolog.Nop()
	notifier := queue.NewNotifier(queue.NewStreamDispatcher(rdb, cfg.NotifyStream), log)

	deps := buildDeps(cfg, storetest.NewDB(t), rdb, notifier, log)
	require.NotNil(t, deps.Categories)
	require.NotNil(t, deps.Orders)
	require.NotNil(t, deps.Idempotency)
	require.NotNil(t, deps.CheckoutLimiter)

	r := gin.New()
	router.Setup(r, deps)
	for _, path := range []string{"/ping", "/api/products", "/api/categories"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}
}
