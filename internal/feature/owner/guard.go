// Package owner decides which actions are reserved for the configured bot
// owner.
package owner

import (
	"errors"

	"github.com/sirupsen/logrus"

	"tg_member_gate_bot/internal/logging"
)

// ErrUnauthorized is returned when a non-owner reaches an owner-only action.
var ErrUnauthorized = errors.New("action is reserved for the bot owner")

// Guard holds the single privileged identity.
type Guard struct {
	ownerID int64
	logger  *logrus.Entry
}

// NewGuard constructs a Guard for ownerID.
func NewGuard(ownerID int64, logger *logrus.Entry) *Guard {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Guard{
		ownerID: ownerID,
		logger:  logger,
	}
}

// IsOwner reports whether userID is the privileged identity. A guard without
// a configured owner authorizes nobody.
func (g *Guard) IsOwner(userID int64) bool {
	if g == nil || g.ownerID == 0 {
		return false
	}
	return userID == g.ownerID
}

// Authorize returns ErrUnauthorized for everyone but the owner and logs the
// denied attempt.
func (g *Guard) Authorize(userID int64, action string) error {
	if g.IsOwner(userID) {
		return nil
	}

	logger := logging.Logger()
	if g != nil {
		logger = g.logger
	}
	logger.WithFields(logging.Fields{
		"event":   "owner_action_denied",
		"user_id": userID,
		"action":  action,
	}).Warn("denied owner-only action")

	return ErrUnauthorized
}
