package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/securechat/internal/types"
)

func (s *Service) IsAdmin(ctx context.Context, userId int) (bool, error) {
	u, err := s.db.GetUserById(ctx, userId)
	if err != nil {
		return false, notFound(err)
	}
	return u.IsAdmin, nil
}

// ListAllUsers returns every account, newest first.
func (s *Service) ListAllUsers(ctx context.Context) ([]types.User, error) {
	users, err := s.db.ListUsersByCreated(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]types.User, len(users))
	for i, u := range users {
		out[i] = toUser(u)
	}
	return out, nil
}

func (s *Service) PromoteAdmin(ctx context.Context, targetId int) (types.User, error) {
	u, err := s.db.GetUserById(ctx, targetId)
	if err != nil {
		return types.User{}, notFound(err)
	}
	if u.IsAdmin {
		return types.User{}, &ConflictError{Message: "user is already an admin"}
	}

	if err := s.db.SetUserAdmin(ctx, targetId, true); err != nil {
		return types.User{}, notFound(err)
	}

	u.IsAdmin = true
	s.log.Printf("user %d promoted to admin", targetId)
	return toUser(u), nil
}

func (s *Service) DemoteAdmin(ctx context.Context, requesterId, targetId int) (types.User, error) {
	if requesterId == targetId {
		return types.User{}, &ConflictError{Message: "cannot remove your own admin privileges"}
	}

	u, err := s.db.GetUserById(ctx, targetId)
	if err != nil {
		return types.User{}, notFound(err)
	}
	if !u.IsAdmin {
		return types.User{}, &ConflictError{Message: "user is not an admin"}
	}

	if err := s.db.SetUserAdmin(ctx, targetId, false); err != nil {
		return types.User{}, notFound(err)
	}

	u.IsAdmin = false
	s.log.Printf("user %d demoted from admin", targetId)
	return toUser(u), nil
}

// RegistrationEnabled reads the persisted toggle, falling back to the
// configured default when it was never set.
func (s *Service) RegistrationEnabled(ctx context.Context) (bool, error) {
	enabled, err := s.db.GetRegistrationEnabled(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.registrationDefault, nil
		}
		return false, fmt.Errorf("get registration setting: %w", err)
	}
	return enabled, nil
}

func (s *Service) SetRegistrationEnabled(ctx context.Context, enabled bool) error {
	if err := s.db.SetRegistrationEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("set registration setting: %w", err)
	}
	s.log.Printf("registration enabled set to %t", enabled)
	return nil
}

func (s *Service) Stats(ctx context.Context) (types.AdminStats, error) {
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	counts, err := s.db.CountUsers(ctx, startOfDay)
	if err != nil {
		return types.AdminStats{}, fmt.Errorf("count users: %w", err)
	}

	enabled, err := s.RegistrationEnabled(ctx)
	if err != nil {
		return types.AdminStats{}, err
	}

	return types.AdminStats{
		TotalUsers:          counts.Total,
		OnlineUsers:         counts.Online,
		AdminUsers:          counts.Admins,
		TodayUsers:          counts.Since,
		RegistrationEnabled: enabled,
	}, nil
}
