// Package account 管理用户注册、资料与账户状态。
package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"storefront/internal/apperr"
	"storefront/internal/model"
	"storefront/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLen = 8
	resetTokenTTL  = 24 * time.Hour
)

var errEmailTaken = apperr.Validation("email", "a user with this email already exists")

// Notifier 注册、验证、重置密码邮件的出口。
type Notifier interface {
	Notify(ctx context.Context, t queue.Task)
}

type UserInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      model.Role
}

type UserUpdate struct {
	Username  *string
	Email     *string
	FirstName *string
	LastName  *string
}

type Users struct {
	db       *gorm.DB
	notifier Notifier
	siteURL  string
	log      zerolog.Logger
	now      func() time.Time
}

func NewUsers(db *gorm.DB, notifier Notifier, siteURL string, log zerolog.Logger) *Users {
	return &Users{
		db:       db,
		notifier: notifier,
		siteURL:  strings.TrimRight(siteURL, "/"),
		log:      log.With().Str("component", "users").Logger(),
		now:      time.Now,
	}
}

// Create 注册新用户。邮箱大小写不敏感且唯一；成功后异步发送欢迎与验证邮件。
func (s *Users) Create(ctx context.Context, in UserInput) (*model.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = model.RoleCustomer
	}
	if !role.Valid() {
		return nil, apperr.Validation("role", "unknown role "+string(role))
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = email[:strings.IndexByte(email, '@')]
	}
	if err := validateNames(username, in.FirstName, in.LastName); err != nil {
		return nil, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		Username:          username,
		Email:             email,
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		PasswordHash:      hash,
		Role:              role,
		IsActive:          true,
		VerificationToken: newToken(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if taken, err := emailTaken(tx, email, 0); err != nil {
			return err
		} else if taken {
			return errEmailTaken
		}
		return tx.Create(u).Error
	})
	if apperr.IsUniqueViolation(err) {
		return nil, errEmailTaken
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().Uint("user_id", u.ID).Str("role", string(u.Role)).Msg("user registered")
	s.notify(ctx, queue.NewTask(queue.KindWelcome, u.Email, u.FullName()))
	verify := queue.NewTask(queue.KindVerification, u.Email, u.FullName())
	verify.Link = s.siteURL + "/users/verify/" + u.VerificationToken
	s.notify(ctx, verify)
	return u, nil
}

func (s *Users) Get(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, apperr.Classify(err)
	}
	return &u, nil
}

func (s *Users) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &u, nil
}

// Update 修改邮箱时重新检查唯一性。
func (s *Users) Update(ctx context.Context, id uint, upd UserUpdate) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&u, id).Error; err != nil {
			return err
		}
		if upd.Email != nil {
			email, err := normalizeEmail(*upd.Email)
			if err != nil {
				return err
			}
			if taken, err := emailTaken(tx, email, u.ID); err != nil {
				return err
			} else if taken {
				return errEmailTaken
			}
			u.Email = email
		}
		if upd.Username != nil {
			u.Username = strings.TrimSpace(*upd.Username)
		}
		if upd.FirstName != nil {
			u.FirstName = strings.TrimSpace(*upd.FirstName)
		}
		if upd.LastName != nil {
			u.LastName = strings.TrimSpace(*upd.LastName)
		}
		if err := validateNames(u.Username, u.FirstName, u.LastName); err != nil {
			return err
		}
		return tx.Model(&model.User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
			"email":      u.Email,
			"username":   u.Username,
			"first_name": u.FirstName,
			"last_name":  u.LastName,
		}).Error
	})
	if apperr.IsUniqueViolation(err) {
		return nil, errEmailTaken
	}
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &u, nil
}

func (s *Users) Activate(ctx context.Context, id uint) (*model.User, error) {
	return s.setFlag(ctx, id, "is_active", true)
}

func (s *Users) Deactivate(ctx context.Context, id uint) (*model.User, error) {
	return s.setFlag(ctx, id, "is_active", false)
}

// Verify 管理员手工验证，同时作废邮件里的验证链接。
func (s *Users) Verify(ctx context.Context, id uint) (*model.User, error) {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_verified": true, "verification_token": ""})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ErrNotFound
	}
	return s.Get(ctx, id)
}

// VerifyByToken 处理验证邮件中的链接。
func (s *Users) VerifyByToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperr.ErrNotFound
	}
	var u model.User
	if err := s.db.WithContext(ctx).Where("verification_token = ?", token).First(&u).Error; err != nil {
		return nil, apperr.Classify(err)
	}
	return s.Verify(ctx, u.ID)
}

// RequestPasswordReset 未注册的邮箱静默成功，不暴露账户是否存在。
func (s *Users) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.GetByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token := newToken()
	expiry := s.now().Add(resetTokenTTL)
	err = s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", u.ID).
		Updates(map[string]interface{}{"reset_token": token, "reset_token_expiry": expiry}).Error
	if err != nil {
		return err
	}

	t := queue.NewTask(queue.KindPasswordReset, u.Email, u.FullName())
	t.Link = s.siteURL + "/users/reset/" + token
	s.notify(ctx, t)
	return nil
}

// ResetPassword 令牌一次性使用，过期即失效。
func (s *Users) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return apperr.Validation("token", "invalid or expired reset token")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u model.User
		err := tx.Where("reset_token = ?", token).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Validation("token", "invalid or expired reset token")
		}
		if err != nil {
			return err
		}
		if u.ResetTokenExpiry == nil || s.now().After(*u.ResetTokenExpiry) {
			return apperr.Validation("token", "invalid or expired reset token")
		}
		return tx.Model(&model.User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
			"password_hash":      hash,
			"reset_token":        "",
			"reset_token_expiry": nil,
		}).Error
	})
}

// CheckPassword 校验明文密码与存储的哈希。
func CheckPassword(u *model.User, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Users) setFlag(ctx context.Context, id uint, column string, v bool) (*model.User, error) {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update(column, v)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ErrNotFound
	}
	s.log.Info().Uint("user_id", id).Bool(column, v).Msg("user updated")
	return s.Get(ctx, id)
}

func (s *Users) notify(ctx context.Context, t queue.Task) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, t)
	}
}

func emailTaken(tx *gorm.DB, email string, exceptID uint) (bool, error) {
	var n int64
	err := tx.Model(&model.User{}).Where("email = ? AND id <> ?", email, exceptID).Count(&n).Error
	return n > 0, err
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("email", "enter a valid email address")
	}
	return email, nil
}

func validateNames(username, first, last string) error {
	if username == "" {
		return apperr.Validation("username", "must not be empty")
	}
	if utf8.RuneCountInString(username) > 150 {
		return apperr.Validation("username", "must be at most 150 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(first)) > 31 || utf8.RuneCountInString(strings.TrimSpace(last)) > 31 {
		return apperr.Validation("name", "first and last name must be at most 31 characters")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return "", apperr.Validation("password", "must be at least 8 characters")
	}
	// bcrypt 只接受 72 字节以内的输入
	if len(password) > 72 {
		return "", apperr.Validation("password", "must be at most 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
