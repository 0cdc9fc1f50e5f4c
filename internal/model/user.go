package model

import "time"

// Role 账户角色，决定权限组。
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// Valid 是否为已知角色。
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username     string `gorm:"size:150;not null" json:"username"`
	Email        string `gorm:"size:254;uniqueIndex;not null" json:"email"`
	FirstName    string `gorm:"size:31" json:"first_name"`
	LastName     string `gorm:"size:31" json:"last_name"`
	PasswordHash string `gorm:"size:255" json:"-"`
	Role         Role   `gorm:"size:31;not null" json:"role"`
	IsActive     bool   `gorm:"not null" json:"is_active"`
	IsVerified   bool   `gorm:"not null" json:"is_verified"`
	IsSuperuser  bool   `gorm:"not null" json:"-"`

	VerificationToken string     `gorm:"size:64;index" json:"-"`
	ResetToken        string     `gorm:"size:64;index" json:"-"`
	ResetTokenExpiry  *time.Time `json:"-"`
}

func (User) TableName() string { return "users" }

// FullName 邮件称呼用
func (u User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Username
	}
	return u.FirstName + " " + u.LastName
}

// UserAddress 收货地址。每个用户有地址时恰有一条 IsDefault=true。
type UserAddress struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    uint   `gorm:"not null;index" json:"user_id"`
	Title     string `gorm:"size:127;not null" json:"title"`
	Address   string `gorm:"type:text;not null" json:"address"`
	IsDefault bool   `gorm:"not null" json:"is_default"`
}

func (UserAddress) TableName() string { return "user_addresses" }
