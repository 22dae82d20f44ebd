// Package dispatch routes incoming chat events to replies. Each event is
// handled on its own: the dispatcher reads the user record and a live
// membership check, applies store updates through its ports and answers
// through a Responder. Nothing is kept between events.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tg_member_gate_bot/internal/domain"
	"tg_member_gate_bot/internal/logging"
	"tg_member_gate_bot/internal/lookup"
	"tg_member_gate_bot/internal/metrics"
	"tg_member_gate_bot/internal/render"
)

// Kind classifies an incoming event.
type Kind string

const (
	KindCommand  Kind = "command"
	KindCallback Kind = "callback"
	KindText     Kind = "text"
)

// Event is a transport-neutral incoming update.
type Event struct {
	Kind     Kind
	Identity domain.Identity
	ChatID   int64
	// MessageID is the message a callback button belongs to; 0 when the
	// message is no longer accessible.
	MessageID  int
	CallbackID string
	Command    string
	Data       string
	Text       string
}

// Responder delivers replies to the chat an event came from.
type Responder interface {
	Send(ctx context.Context, reply render.Reply) (int, error)
	Edit(ctx context.Context, messageID int, reply render.Reply) error
	Delete(ctx context.Context, messageID int) error
	Acknowledge(ctx context.Context, callbackID string) error
}

// UserStore persists user records.
type UserStore interface {
	EnsureUser(ctx context.Context, identity domain.Identity) (domain.User, bool, error)
	MarkVerified(ctx context.Context, userID int64) error
}

// StatsReader returns aggregate user counts.
type StatsReader interface {
	Snapshot(ctx context.Context) (domain.Stats, error)
}

// MembershipVerifier runs the live gate check.
type MembershipVerifier interface {
	Verify(ctx context.Context, userID int64) domain.VerifyResult
}

// ProfileLookup fetches a public profile.
type ProfileLookup interface {
	Fetch(ctx context.Context, username string) (domain.Profile, error)
}

// Authorizer decides owner-only access.
type Authorizer interface {
	IsOwner(userID int64) bool
	Authorize(userID int64, action string) error
}

// Deps wires a Dispatcher.
type Deps struct {
	Users    UserStore
	Stats    StatsReader
	Verifier MembershipVerifier
	Lookup   ProfileLookup
	Owner    Authorizer
	Links    render.Links
	Logger   *logrus.Entry
}

// Dispatcher is safe for concurrent use; it holds no per-event state.
type Dispatcher struct {
	users    UserStore
	stats    StatsReader
	verifier MembershipVerifier
	lookup   ProfileLookup
	owner    Authorizer
	links    render.Links
	logger   *logrus.Entry
}

// New validates deps and returns a Dispatcher.
func New(deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("user store is required")
	case deps.Stats == nil:
		return nil, errors.New("stats reader is required")
	case deps.Verifier == nil:
		return nil, errors.New("membership verifier is required")
	case deps.Lookup == nil:
		return nil, errors.New("profile lookup is required")
	case deps.Owner == nil:
		return nil, errors.New("owner guard is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	return &Dispatcher{
		users:    deps.Users,
		stats:    deps.Stats,
		verifier: deps.Verifier,
		lookup:   deps.Lookup,
		owner:    deps.Owner,
		links:    deps.Links,
		logger:   logger,
	}, nil
}

// Handle processes one event. Failures never escape: they are logged and
// the user gets a generic error reply.
func (d *Dispatcher) Handle(ctx context.Context, ev Event, out Responder) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.Enrich(d.logger, logging.Request{
		ID:     uuid.NewString(),
		UserID: ev.Identity.UserID,
		ChatID: ev.ChatID,
	})
	metrics.IncUpdate(string(ev.Kind))

	if ev.Kind == KindCallback && ev.CallbackID != "" {
		if err := out.Acknowledge(ctx, ev.CallbackID); err != nil {
			logger.WithField("event", "callback_ack_failed").WithError(err).Warn("failed to answer callback")
		}
	}

	err := d.route(ctx, ev, out, logger)
	if err == nil {
		return
	}

	metrics.IncHandlerError(string(ev.Kind))
	logger.WithFields(logging.Fields{
		"event":   "handler_failed",
		"kind":    ev.Kind,
		"command": ev.Command,
		"data":    ev.Data,
	}).WithError(err).Error("update handling failed")

	if _, sendErr := out.Send(ctx, render.GenericError()); sendErr != nil {
		logger.WithField("event", "error_reply_failed").WithError(sendErr).Warn("failed to send error reply")
	}
}

// route upserts the sender before dispatching, so every interaction with a
// sender refreshes last_active.
func (d *Dispatcher) route(ctx context.Context, ev Event, out Responder, logger *logrus.Entry) error {
	if ev.Identity.UserID == 0 {
		logger.WithField("event", "update_without_sender").Debug("ignoring update without sender")
		return nil
	}

	user, created, err := d.users.EnsureUser(ctx, ev.Identity)
	if err != nil {
		return err
	}
	if created {
		logger.WithField("event", "user_registered").Debug("first interaction from user")
	}

	switch ev.Kind {
	case KindCommand:
		switch ev.Command {
		case "start":
			return d.start(ctx, ev, out, logger)
		case "stats":
			return d.statsCommand(ctx, ev, out)
		default:
			_, err := out.Send(ctx, render.Help())
			return err
		}
	case KindCallback:
		switch ev.Data {
		case render.ActionVerify:
			return d.verifyButton(ctx, ev, out, logger)
		case render.ActionDevInfo:
			return d.replace(ctx, ev, out, render.DeveloperInfo(), logger)
		case render.ActionMyStats:
			return d.replace(ctx, ev, out, render.MyStats(user), logger)
		case render.ActionAdminPanel:
			return d.adminPanel(ctx, ev, out, logger)
		default:
			logger.WithFields(logging.Fields{
				"event": "unknown_callback",
				"data":  ev.Data,
			}).Debug("ignoring unknown callback")
			return nil
		}
	case KindText:
		return d.profileQuery(ctx, ev, user, out, logger)
	default:
		return nil
	}
}

// start answers /start with the main menu when the live check passes and
// with the join prompt otherwise. A passing check also records the
// verification, the same way the verify button does.
func (d *Dispatcher) start(ctx context.Context, ev Event, out Responder, logger *logrus.Entry) error {
	reply := render.JoinPrompt(ev.Identity.DisplayName(), d.links)
	if d.passes(ctx, ev.Identity.UserID, logger) {
		if err := d.users.MarkVerified(ctx, ev.Identity.UserID); err != nil {
			return err
		}
		reply = render.MainMenu(ev.Identity.DisplayName(), d.owner.IsOwner(ev.Identity.UserID))
	}

	_, err := out.Send(ctx, reply)
	return err
}

func (d *Dispatcher) statsCommand(ctx context.Context, ev Event, out Responder) error {
	reply, err := d.ownerStats(ctx, ev.Identity.UserID, "stats", render.Stats)
	if err != nil {
		return err
	}

	_, err = out.Send(ctx, reply)
	return err
}

func (d *Dispatcher) adminPanel(ctx context.Context, ev Event, out Responder, logger *logrus.Entry) error {
	reply, err := d.ownerStats(ctx, ev.Identity.UserID, render.ActionAdminPanel, render.AdminPanel)
	if err != nil {
		return err
	}

	return d.replace(ctx, ev, out, reply, logger)
}

func (d *Dispatcher) ownerStats(ctx context.Context, userID int64, action string, view func(domain.Stats) render.Reply) (render.Reply, error) {
	if err := d.owner.Authorize(userID, action); err != nil {
		return render.Unauthorized(), nil
	}

	stats, err := d.stats.Snapshot(ctx)
	if err != nil {
		return render.Reply{}, fmt.Errorf("load stats: %w", err)
	}

	return view(stats), nil
}

func (d *Dispatcher) verifyButton(ctx context.Context, ev Event, out Responder, logger *logrus.Entry) error {
	if !d.passes(ctx, ev.Identity.UserID, logger) {
		return d.replace(ctx, ev, out, render.NotVerified(d.links), logger)
	}

	if err := d.users.MarkVerified(ctx, ev.Identity.UserID); err != nil {
		return err
	}

	return d.replace(ctx, ev, out, render.Verified(), logger)
}

func (d *Dispatcher) profileQuery(ctx context.Context, ev Event, user domain.User, out Responder, logger *logrus.Entry) error {
	// Both the stored flag and a fresh check are required.
	if !user.IsMember || !d.passes(ctx, ev.Identity.UserID, logger) {
		_, err := out.Send(ctx, render.JoinPrompt(ev.Identity.DisplayName(), d.links))
		return err
	}

	username, err := lookup.NormalizeUsername(ev.Text)
	if err != nil {
		_, err := out.Send(ctx, render.InvalidUsername())
		return err
	}

	indicator, err := out.Send(ctx, render.Fetching(username))
	if err != nil {
		return err
	}

	profile, lookupErr := d.lookup.Fetch(ctx, username)

	if err := out.Delete(ctx, indicator); err != nil {
		logger.WithField("event", "indicator_delete_failed").WithError(err).Warn("failed to remove fetching indicator")
	}

	_, err = out.Send(ctx, lookupReply(username, profile, lookupErr))
	return err
}

func lookupReply(username string, profile domain.Profile, err error) render.Reply {
	switch {
	case err == nil:
		return render.Profile(profile)
	case errors.Is(err, lookup.ErrInvalidUsername):
		return render.InvalidUsername()
	case errors.Is(err, lookup.ErrNotFound):
		return render.NotFound(username)
	case errors.Is(err, lookup.ErrTimeout):
		return render.Timeout()
	default:
		return render.LookupError()
	}
}

// passes runs the live membership check. The verifier logs check failures;
// here they only count as not verified.
func (d *Dispatcher) passes(ctx context.Context, userID int64, logger *logrus.Entry) bool {
	result := d.verifier.Verify(ctx, userID)
	if result.Outcome == domain.OutcomeCheckFailed {
		logger.WithField("event", "membership_fail_closed").Debug("gate closed after failed check")
	}

	return result.Outcome == domain.OutcomeVerified
}

// replace edits the message a button belongs to, or sends a new message when
// it cannot be edited.
func (d *Dispatcher) replace(ctx context.Context, ev Event, out Responder, reply render.Reply, logger *logrus.Entry) error {
	if ev.MessageID != 0 {
		err := out.Edit(ctx, ev.MessageID, reply)
		if err == nil {
			return nil
		}
		logger.WithFields(logging.Fields{
			"event":      "edit_failed",
			"message_id": ev.MessageID,
		}).WithError(err).Debug("edit failed, sending new message")
	}

	_, err := out.Send(ctx, reply)
	return err
}

// ParseCommand extracts the lowercased command name from text such as
// "/start@SomeBot payload". ok is false when text is not a command.
func ParseCommand(text string) (name string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", false
	}

	name, _, _ = strings.Cut(fields[0], "@")
	if name == "" {
		return "", false
	}

	return strings.ToLower(name), true
}
