package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/npezzotti/securechat/internal/database"
	"github.com/npezzotti/securechat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

const (
	maxNameLength     = 50
	minPasswordLength = 6
	maxPasswordLength = 100
)

type RegisterParams struct {
	Name     string
	Email    string
	Password string
}

type ProfileUpdate struct {
	Name   *string
	Avatar *string
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateName(verr *ValidationError, name string) {
	n := utf8.RuneCountInString(name)
	if n == 0 {
		verr.add("name", "name is required")
	} else if n > maxNameLength {
		verr.add("name", fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
}

func (s *Service) Register(ctx context.Context, p RegisterParams) (types.User, error) {
	enabled, err := s.RegistrationEnabled(ctx)
	if err != nil {
		return types.User{}, err
	}
	if !enabled {
		return types.User{}, ErrRegistrationDisabled
	}

	name := strings.TrimSpace(p.Name)
	email := normalizeEmail(p.Email)

	verr := newValidationError("invalid registration")
	validateName(verr, name)
	if !emailRegex.MatchString(email) {
		verr.add("email", "invalid email format")
	}
	if len(p.Password) < minPasswordLength {
		verr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	} else if len(p.Password) > maxPasswordLength {
		verr.add("password", "password is too long")
	}
	if err := verr.orNil(); err != nil {
		return types.User{}, err
	}

	pwdHash, err := hashPassword(p.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	_, isAdmin := s.adminEmails[email]
	u, err := s.db.CreateUser(ctx, database.CreateUserParams{
		Email:        email,
		Name:         name,
		PasswordHash: pwdHash,
		IsAdmin:      isAdmin,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return types.User{}, &ConflictError{Message: "email already registered"}
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Printf("registered user %d (admin=%t)", u.Id, u.IsAdmin)
	return toUser(u), nil
}

// Authenticate checks credentials. Unknown emails and wrong passwords are
// reported the same way.
func (s *Service) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	u, err := s.db.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, fmt.Errorf("get user by email: %w", err)
	}

	if !verifyPassword(u.PasswordHash, password) {
		return types.User{}, ErrInvalidCredentials
	}

	return toUser(u), nil
}

func (s *Service) GetUser(ctx context.Context, userId int) (types.User, error) {
	u, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		return types.User{}, notFound(err)
	}
	return toUser(u), nil
}

func (s *Service) ListUsers(ctx context.Context, search string) ([]types.User, error) {
	users, err := s.db.ListUsers(ctx, strings.TrimSpace(search))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]types.User, len(users))
	for i, u := range users {
		out[i] = toUser(u)
	}
	return out, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userId int, upd ProfileUpdate) (types.User, error) {
	params := database.UpdateProfileParams{UserId: userId, Avatar: upd.Avatar}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		verr := newValidationError("invalid profile")
		validateName(verr, name)
		if err := verr.orNil(); err != nil {
			return types.User{}, err
		}
		params.Name = &name
	}

	u, err := s.db.UpdateProfile(ctx, params)
	if err != nil {
		return types.User{}, notFound(err)
	}
	return toUser(u), nil
}

// SetPresence records the user's online state and stamps last seen.
func (s *Service) SetPresence(ctx context.Context, userId int, online bool) (types.User, error) {
	u, err := s.db.SetUserPresence(ctx, userId, online, s.now())
	if err != nil {
		return types.User{}, notFound(err)
	}
	return toPublicUser(u), nil
}
