package router

import (
	"net/http"

	"storefront/internal/account"
	"storefront/internal/apperr"
	"storefront/internal/middleware"
	"storefront/internal/model"

	"github.com/gin-gonic/gin"
)

// registerUser 自助注册只能选择 customer 或 seller。
func registerUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username  string     `json:"username" binding:"required"`
			Email     string     `json:"email" binding:"required"`
			Password  string     `json:"password" binding:"required"`
			FirstName string     `json:"first_name"`
			LastName  string     `json:"last_name"`
			Role      model.Role `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if req.Role != "" && req.Role != model.RoleCustomer && req.Role != model.RoleSeller {
			fail(c, d.Log, apperr.Validation("role", "must be customer or seller"))
			return
		}
		u, err := d.Users.Create(c.Request.Context(), account.UserInput{
			Username:  req.Username,
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      req.Role,
		})
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusCreated, u)
	}
}

func verifyEmail(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := d.Users.VerifyByToken(c.Request.Context(), c.Param("token"))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"id": u.ID, "is_verified": u.IsVerified})
	}
}

func requestPasswordReset(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := d.Users.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusAccepted, nil)
	}
}

func confirmPasswordReset(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token    string `json:"token" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := d.Users.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, nil)
	}
}

func getMe(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, http.StatusOK, middleware.CurrentUser(c))
	}
}

func updateMe(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username  *string `json:"username"`
			Email     *string `json:"email"`
			FirstName *string `json:"first_name"`
			LastName  *string `json:"last_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		u, err := d.Users.Update(c.Request.Context(), middleware.CurrentUser(c).ID, account.UserUpdate(req))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, u)
	}
}

func adminVerifyUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		u, err := d.Users.Verify(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, u)
	}
}

func adminSetActive(d *Deps, active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var (
			u   *model.User
			err error
		)
		if active {
			u, err = d.Users.Activate(c.Request.Context(), id)
		} else {
			u, err = d.Users.Deactivate(c.Request.Context(), id)
		}
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, u)
	}
}
