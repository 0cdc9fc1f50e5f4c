// Package auth 把角色映射为能力，在 HTTP 边界一次性判定。
package auth

import (
	"slices"

	"storefront/internal/model"
)

// Capability 一项可授予的操作权限
type Capability string

const (
	CapViewUser       Capability = "view_user"
	CapManageProducts Capability = "manage_products"
	CapViewAllOrders  Capability = "view_all_orders"
	CapVerifyUsers    Capability = "verify_users"
)

var roleCapabilities = map[model.Role][]Capability{
	model.RoleCustomer: {CapViewUser},
	model.RoleSeller:   {CapViewUser, CapManageProducts},
	model.RoleAdmin:    {CapViewUser, CapManageProducts, CapViewAllOrders, CapVerifyUsers},
}

// Capabilities 停用账户没有任何能力；超级用户拥有全部能力。
func Capabilities(u *model.User) []Capability {
	if u == nil || !u.IsActive {
		return nil
	}
	if u.IsSuperuser {
		return slices.Clone(roleCapabilities[model.RoleAdmin])
	}
	return slices.Clone(roleCapabilities[u.Role])
}

func Can(u *model.User, c Capability) bool {
	return slices.Contains(Capabilities(u), c)
}

// IsSeller 管理员同样具备卖家能力。
func IsSeller(u *model.User) bool {
	return Can(u, CapManageProducts)
}

func IsAdmin(u *model.User) bool {
	return u != nil && u.IsActive && (u.IsSuperuser || u.Role == model.RoleAdmin)
}

// OwnerOrAdmin 资源属于 u，或 u 是管理员。
func OwnerOrAdmin(u *model.User, ownerID uint) bool {
	if u == nil || !u.IsActive {
		return false
	}
	return u.ID == ownerID || IsAdmin(u)
}
