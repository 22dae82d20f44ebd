// Package membership checks that a user joined both gate chats.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_member_gate_bot/internal/domain"
	"tg_member_gate_bot/internal/logging"
	"tg_member_gate_bot/internal/metrics"
)

// MemberGetter is the subset of the Telegram API used for membership checks.
type MemberGetter interface {
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
}

// Verifier queries the channel and the group for a user's status. It never
// returns an error: failures come back as domain.OutcomeCheckFailed.
type Verifier struct {
	api     MemberGetter
	channel string
	group   string
	timeout time.Duration
	logger  *logrus.Entry
}

// NewVerifier constructs a Verifier for the given chat handles. A zero
// timeout leaves the calls bounded only by the caller's context.
func NewVerifier(api MemberGetter, channel, group string, timeout time.Duration, logger *logrus.Entry) *Verifier {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Verifier{
		api:     api,
		channel: channel,
		group:   group,
		timeout: timeout,
		logger:  logger,
	}
}

// Verify checks both memberships once, without retrying.
func (v *Verifier) Verify(ctx context.Context, userID int64) domain.VerifyResult {
	result := v.verify(ctx, userID)
	metrics.IncMembershipCheck(string(result.Outcome))

	fields := logging.Fields{
		"event":   "membership_check",
		"user_id": userID,
		"outcome": string(result.Outcome),
		"channel": result.Status.Channel,
		"group":   result.Status.Group,
	}
	if result.Err != nil {
		v.logger.WithFields(fields).WithError(result.Err).Warn("membership check failed, treating as not verified")
	} else {
		v.logger.WithFields(fields).Debug("membership checked")
	}

	return result
}

func (v *Verifier) verify(ctx context.Context, userID int64) domain.VerifyResult {
	if v == nil || v.api == nil {
		return checkFailed(domain.MembershipStatus{}, errors.New("membership verifier is not initialized"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var status domain.MembershipStatus

	inChannel, err := v.isMember(ctx, v.channel, userID)
	if err != nil {
		return checkFailed(status, fmt.Errorf("channel %s: %w", v.channel, err))
	}
	status.Channel = inChannel

	inGroup, err := v.isMember(ctx, v.group, userID)
	if err != nil {
		return checkFailed(status, fmt.Errorf("group %s: %w", v.group, err))
	}
	status.Group = inGroup

	if status.Passing() {
		return domain.VerifyResult{Outcome: domain.OutcomeVerified, Status: status}
	}
	return domain.VerifyResult{Outcome: domain.OutcomeNotVerified, Status: status}
}

func (v *Verifier) isMember(ctx context.Context, chat string, userID int64) (bool, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	member, err := v.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chat,
		UserID: userID,
	})
	if err != nil {
		return false, err
	}
	if member == nil {
		return false, errors.New("empty chat member response")
	}

	return passingStatus(member.Type), nil
}

func passingStatus(t models.ChatMemberType) bool {
	switch t {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember:
		return true
	default:
		return false
	}
}

func checkFailed(status domain.MembershipStatus, err error) domain.VerifyResult {
	return domain.VerifyResult{Outcome: domain.OutcomeCheckFailed, Status: status, Err: err}
}
