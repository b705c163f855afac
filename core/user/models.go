package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/atelier/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Creator publishes courses and hosts their live sessions
	RoleCreator = "creator:"

	// Student
	RoleStudent = "student:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner}
	CreatorRoles = []string{RoleCreator}
	StudentRoles = []string{RoleStudent}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner: 30,
		RoleAdmin:      21,

		// Creators: 20 - 11
		RoleCreator: 11,

		// Students: 10 - 1
		RoleStudent: 1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Creator", Value: RoleCreator},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 4)
	all = append(all, AdminRoles...)
	all = append(all, CreatorRoles...)
	all = append(all, StudentRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Username        string          `json:"username" db:"username"`
	Email           string          `json:"email" db:"email"`
	Roles           []string        `json:"roles" db:"-"`
	PasswordHash    []byte          `json:"-" db:"password_hash"`
	IsDisabled      bool            `json:"is_disabled" db:"is_disabled"`
	IsVerified      bool            `json:"is_verified" db:"is_verified"`
	Currency        string          `json:"currency" db:"currency"`
	Credits         decimal.Decimal `json:"credits" db:"credits"`
	ReservedCredits decimal.Decimal `json:"reserved_credits" db:"reserved_credits"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"` // UTC
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"` // UTC
	LastLogin       time.Time       `json:"last_login" db:"-"`          // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u *User) IsCreator() bool {
	return u.RoleStartsWith(RoleCreator)
}

func (u *User) IsStudent() bool {
	return u.RoleStartsWith(RoleStudent)
}

// CanPurchase reports whether the user may spend money on the platform.
func (u *User) CanPurchase() error {
	if u.IsDisabled {
		return core.NewUserDisabled()
	}
	if !u.IsVerified {
		return core.NewAccountNotVerified()
	}
	return nil
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Currency        string   `json:"currency" validate:"omitempty,currency"`
	IsVerified      bool     `json:"is_verified"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc ServiceInterface) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Currency = core.CleanString(nu.Currency, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string   `json:"name"`
	Username        string   `json:"username" validate:"omitempty,min=4,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Currency        string   `json:"currency" validate:"omitempty,currency"`
	IsVerified      *bool    `json:"is_verified"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc ServiceInterface) error {
	uu.Name = orDefault(core.CleanString(uu.Name), origUsr.Name)
	uu.Username = orDefault(core.CleanString(uu.Username, true /* lower */), origUsr.Username)
	uu.Email = orDefault(core.CleanString(uu.Email, true /* lower */), origUsr.Email)
	uu.Currency = orDefault(core.CleanString(uu.Currency, true /* lower */), origUsr.Currency)
	if uu.Roles == nil {
		uu.Roles = origUsr.Roles
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

func orDefault(val, def string) string {
	if val != "" {
		return val
	}
	return def
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsDisabled  *bool     `query:"is_disabled"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsDisabled == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
