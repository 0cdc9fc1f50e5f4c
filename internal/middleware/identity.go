package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/model"

	"github.com/gin-gonic/gin"
)

// HeaderUserID 由前置会话层注入的已认证用户 ID。
const HeaderUserID = "X-User-ID"

const userContextKey = "storefront.user"

// UserLoader 按 ID 加载用户。
type UserLoader interface {
	Get(ctx context.Context, id uint) (*model.User, error)
}

// Identity 解析 X-User-ID 并加载用户，停用账户直接拒绝。
// required=false 时缺少请求头视为匿名访问。
func Identity(users UserLoader, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderUserID)
		if raw == "" {
			if required {
				abort(c, http.StatusUnauthorized, "authentication required")
				return
			}
			c.Next()
			return
		}

		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			abort(c, http.StatusUnauthorized, "invalid "+HeaderUserID)
			return
		}
		u, err := users.Get(c.Request.Context(), uint(id))
		if errors.Is(err, apperr.ErrNotFound) {
			abort(c, http.StatusUnauthorized, "unknown user")
			return
		}
		if err != nil {
			abort(c, http.StatusInternalServerError, "internal error")
			return
		}
		if !u.IsActive {
			abort(c, http.StatusForbidden, "account is inactive")
			return
		}
		c.Set(userContextKey, u)
		c.Next()
	}
}

// CurrentUser 匿名请求返回 nil。
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

// RequireCapability 必须位于 Identity 之后。
func RequireCapability(capability auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if u == nil {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}
		if !auth.Can(u, capability) {
			abort(c, http.StatusForbidden, "permission denied")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}

// RequireUser 拒绝匿名请求，配合 Identity(users, false) 使用。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if u == nil {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}
		if !auth.IsAdmin(u) {
			abort(c, http.StatusForbidden, "permission denied")
			return
		}
		c.Next()
	}
}
