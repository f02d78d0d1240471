package engine

import (
	"context"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
)

// ChangeRole gives up every allocation the user holds, recording each removal, and then
// switches the role. Capability flags follow the new role.
func (e Engine) ChangeRole(ctx context.Context, userID string, role domain.Role) (domain.User, error) {
	role, err := domain.ParseRole(string(role))
	if err != nil {
		return domain.User{}, err
	}
	defer e.lock()()

	u, err := e.Users.Get(userID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Role == role {
		return u, nil
	}
	for _, s := range []scope{accountableScope, managerScope, taskScope} {
		for _, name := range *s.set(&u.Permissions) {
			current, err := e.Users.Get(userID)
			if err != nil {
				return domain.User{}, err
			}
			domainName := ""
			if s.role == domain.AllocTaskManager {
				_, domainName, _ = e.Data.FindTask(name)
			}
			if err := e.drop(ctx, s, current, domainName, name); err != nil {
				return domain.User{}, err
			}
		}
	}
	u, err = e.Users.Get(userID)
	if err != nil {
		return domain.User{}, err
	}
	from := u.Role
	u.Role = role
	if err := e.Users.Update(ctx, u); err != nil {
		return domain.User{}, err
	}
	e.Log.Info().Str("user_id", userID).Str("from", string(from)).Str("to", string(role)).Msg("role changed")
	return e.Users.Get(userID)
}

// DeleteUser removes the user record and any task bindings to it. History entries about the
// user are kept.
func (e Engine) DeleteUser(ctx context.Context, userID string) error {
	defer e.lock()()
	if err := e.Users.Remove(ctx, userID); err != nil {
		return err
	}
	if n := e.Data.ClearTaskManagerRefs(userID); n > 0 {
		e.Log.Info().Str("user_id", userID).Int("tasks", n).Msg("task bindings cleared for deleted user")
	}
	return nil
}
