package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/user"
)

const userColumns = `id, name, username, email, password_hash, roles, is_disabled, is_verified, currency,
	credits, reserved_credits, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"name":       "name",
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"last_login": "last_login",
}

type userRow struct {
	ID              string          `db:"id"`
	Name            string          `db:"name"`
	Username        sql.NullString  `db:"username"`
	Email           sql.NullString  `db:"email"`
	PasswordHash    []byte          `db:"password_hash"`
	Roles           pq.StringArray  `db:"roles"`
	IsDisabled      bool            `db:"is_disabled"`
	IsVerified      bool            `db:"is_verified"`
	Currency        string          `db:"currency"`
	Credits         decimal.Decimal `db:"credits"`
	ReservedCredits decimal.Decimal `db:"reserved_credits"`
	CreatedAt       sql.NullTime    `db:"created_at"`
	UpdatedAt       sql.NullTime    `db:"updated_at"`
	LastLogin       sql.NullTime    `db:"last_login"`
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:              r.ID,
		Name:            r.Name,
		Username:        r.Username.String,
		Email:           r.Email.String,
		Roles:           []string(r.Roles),
		PasswordHash:    r.PasswordHash,
		IsDisabled:      r.IsDisabled,
		IsVerified:      r.IsVerified,
		Currency:        r.Currency,
		Credits:         r.Credits,
		ReservedCredits: r.ReservedCredits,
		CreatedAt:       r.CreatedAt.Time.UTC(),
		UpdatedAt:       r.UpdatedAt.Time.UTC(),
		LastLogin:       r.LastLogin.Time.UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func lastLogin(u user.User) sql.NullTime {
	return sql.NullTime{Time: u.LastLogin.UTC(), Valid: !u.LastLogin.IsZero()}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo *userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	ex, _ := executor(ctx, repo.db)
	ids := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		ids = append(ids, u.ID)
	}

	var found userRow
	err := sqlx.GetContext(ctx, ex, &found,
		`SELECT id, username, email FROM users
		WHERE (username = $1 OR email = $2) AND NOT (id::text = ANY($3))
		LIMIT 1`,
		username, email, pq.StringArray(ids))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return errors.Wrap(err, "checking user uniqueness")
	case found.Username.String == username:
		return user.ErrUsernameExists
	default:
		return user.ErrEmailExists
	}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	ex, _ := executor(ctx, repo.db)
	if usr.ID == "" {
		usr.ID = core.NewID()
	}

	var row userRow
	err := sqlx.GetContext(ctx, ex, &row,
		`INSERT INTO users (id, name, username, email, password_hash, roles, is_disabled, is_verified, currency, created_at, updated_at, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+userColumns,
		usr.ID, usr.Name, nullString(usr.Username), nullString(usr.Email), usr.PasswordHash, pq.StringArray(usr.Roles),
		usr.IsDisabled, usr.IsVerified, usr.Currency, usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(), lastLogin(usr))
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	ex, _ := executor(ctx, repo.db)

	var (
		where []string
		args  []interface{}
	)
	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			where = append(where, "(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
			args = append(args, val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleConds := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleConds = append(roleConds, "EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role ILIKE ?)")
				args = append(args, role+"%")
			}
			where = append(where, "("+strings.Join(roleConds, " OR ")+")")
		}
		if filter.IsDisabled != nil {
			where = append(where, "is_disabled = ?")
			args = append(args, *filter.IsDisabled)
		}
		if !filter.CreatedFrom.IsZero() {
			where = append(where, "created_at >= ?")
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			where = append(where, "created_at <= ?")
			args = append(args, filter.CreatedTo.UTC())
		}
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += orderBy(ordering, userOrderings, "created_at ASC")

	var rows []userRow
	if err := sqlx.SelectContext(ctx, ex, &rows, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (repo *userRepository) getUser(ctx context.Context, where string, arg interface{}) (user.User, error) {
	ex, _ := executor(ctx, repo.db)
	var row userRow
	if err := sqlx.GetContext(ctx, ex, &row, "SELECT "+userColumns+" FROM users WHERE "+where+" LIMIT 1", arg); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if !core.IsValidID(id) {
		return user.User{}, user.ErrNotFound
	}
	return repo.getUser(ctx, "id = $1", id)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, "email = $1", email)
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, uname string) (user.User, error) {
	return repo.getUser(ctx, "(username = $1 OR email = $1)", uname)
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	ex, _ := executor(ctx, repo.db)

	var row userRow
	err := sqlx.GetContext(ctx, ex, &row,
		`UPDATE users SET name = $2, username = $3, email = $4, password_hash = $5, roles = $6,
			is_disabled = $7, is_verified = $8, currency = $9, updated_at = $10, last_login = $11
		WHERE id = $1
		RETURNING `+userColumns,
		usr.ID, usr.Name, nullString(usr.Username), nullString(usr.Email), usr.PasswordHash, pq.StringArray(usr.Roles),
		usr.IsDisabled, usr.IsVerified, usr.Currency, usr.UpdatedAt.UTC(), lastLogin(usr))
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "updating user")
	}
	return row.toUser(), nil
}
