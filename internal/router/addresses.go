package router

import (
	"context"
	"errors"
	"net/http"

	"storefront/internal/address"
	"storefront/internal/apperr"
	"storefront/internal/middleware"
	"storefront/internal/model"

	"github.com/gin-gonic/gin"
)

func listAddresses(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Addresses.List(c.Request.Context(), middleware.CurrentUser(c).ID)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, list)
	}
}

func createAddress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title     string `json:"title" binding:"required"`
			Address   string `json:"address" binding:"required"`
			IsDefault bool   `json:"is_default"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		a, err := d.Addresses.Create(c.Request.Context(), middleware.CurrentUser(c).ID, address.AddressInput{
			Title:     req.Title,
			Address:   req.Address,
			IsDefault: req.IsDefault,
		})
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusCreated, a)
	}
}

func updateAddress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := ownedAddress(c, d)
		if !valid {
			return
		}
		var req struct {
			Title     *string `json:"title"`
			Address   *string `json:"address"`
			IsDefault *bool   `json:"is_default"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		a, err := d.Addresses.Update(c.Request.Context(), id, address.AddressUpdate(req))
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, a)
	}
}

func deleteAddress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := ownedAddress(c, d)
		if !valid {
			return
		}
		deleted, err := d.Addresses.Delete(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		if !deleted {
			fail(c, d.Log, apperr.ErrNotFound)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func setDefaultAddress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := ownedAddress(c, d)
		if !valid {
			return
		}
		a, err := d.Addresses.SetDefault(c.Request.Context(), id)
		if err != nil {
			fail(c, d.Log, err)
			return
		}
		ok(c, http.StatusOK, a)
	}
}

// ownedAddress 别人的地址一律按不存在处理，不暴露 id 是否有效。
func ownedAddress(c *gin.Context, d *Deps) (uint, bool) {
	id, valid := paramID(c, "id")
	if !valid {
		return 0, false
	}
	a, err := d.Addresses.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, d.Log, err)
		return 0, false
	}
	if !address.IsOwner(a, middleware.CurrentUser(c).ID) {
		fail(c, d.Log, apperr.ErrNotFound)
		return 0, false
	}
	return id, true
}

// defaultAddressID 下单未指定地址时取默认地址。
func defaultAddressID(ctx context.Context, d *Deps, u *model.User) (uint, error) {
	a, err := d.Addresses.Default(ctx, u.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, apperr.Validation("delivery_address_id", "no default address")
		}
		return 0, err
	}
	return a.ID, nil
}
