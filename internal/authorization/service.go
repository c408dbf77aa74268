package authorization

import (
	"context"

	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
)

// Service decides whether a user may perform an action on an admin object.
type Service interface {
	Authorize(ctx context.Context, user userdomain.User, object string, action string) error
}
