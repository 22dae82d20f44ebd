// Package render builds the user-facing replies. Every function is pure and
// returns Telegram HTML; user-provided strings are escaped.
package render

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"tg_member_gate_bot/internal/domain"
)

// Callback data carried by inline buttons.
const (
	ActionVerify     = "verify"
	ActionDevInfo    = "dev_info"
	ActionMyStats    = "my_stats"
	ActionAdminPanel = "admin_panel"
)

// MaxBioRunes bounds the biography shown in a profile card.
const MaxBioRunes = 300

const ellipsis = "..."

// Button is an inline keyboard button. Exactly one of URL or Data is set.
type Button struct {
	Text string
	URL  string
	Data string
}

// Reply is a message body plus an optional inline keyboard, one row per
// slice.
type Reply struct {
	Text     string
	Keyboard [][]Button
}

// Links holds the join links of the gate chats, t.me handles or invite links.
type Links struct {
	Channel string
	Group   string
}

func joinKeyboard(links Links) [][]Button {
	return [][]Button{
		{{Text: "📢 Join Channel", URL: links.Channel}},
		{{Text: "💬 Join Group", URL: links.Group}},
		{{Text: "✅ Verify Join", Data: ActionVerify}},
	}
}

// JoinPrompt asks an unverified user to join both chats and verify.
func JoinPrompt(name string, links Links) Reply {
	text := fmt.Sprintf(`👋 <b>Welcome, %s!</b>

📢 <b>Please join our channel and group to use the bot:</b>

📢 Official Channel: %s
💡 Tech Chat: %s

✅ <b>After joining, tap the button below to verify.</b>`,
		html.EscapeString(name), html.EscapeString(links.Channel), html.EscapeString(links.Group))

	return Reply{Text: text, Keyboard: joinKeyboard(links)}
}

// MainMenu greets a verified user. The owner gets the admin panel entry.
func MainMenu(name string, isOwner bool) Reply {
	text := fmt.Sprintf(`👋 <b>Welcome back, %s!</b>

✅ <b>You are a member. All features are unlocked.</b>

📌 Send any Instagram username to get its profile info.`, html.EscapeString(name))

	keyboard := [][]Button{
		{{Text: "👨‍💻 Developer Info", Data: ActionDevInfo}},
		{{Text: "📊 My Stats", Data: ActionMyStats}},
	}
	if isOwner {
		keyboard = append(keyboard, []Button{{Text: "⚙️ Admin Panel", Data: ActionAdminPanel}})
	}

	return Reply{Text: text, Keyboard: keyboard}
}

// Verified confirms a successful verification.
func Verified() Reply {
	return Reply{Text: "✅ <b>Verified successfully! You can now use the bot.</b>\n\n📌 Send any Instagram username to get info."}
}

// NotVerified is shown when verification did not pass. The join buttons are
// repeated so the user can retry.
func NotVerified(links Links) Reply {
	return Reply{
		Text:     "❌ <b>You haven't joined both the channel and the group yet.</b>\nPlease join both and try again.",
		Keyboard: joinKeyboard(links),
	}
}

// DeveloperInfo is static contact text.
func DeveloperInfo() Reply {
	return Reply{Text: `<b>👨‍💻 Developer Information</b>

🤖 Bot Developer: tech master
👑 Team Owner: @gajarbotol
⚡ Admin: @victoriababe

🔧 For support contact the admin.`}
}

// AdminPanel shows aggregate user counts to the owner.
func AdminPanel(stats domain.Stats) Reply {
	return Reply{Text: fmt.Sprintf(`<b>⚙️ Admin Panel</b>

%s

📌 Admin commands:
/stats - bot statistics`, counts(stats))}
}

// Stats is the /stats reply for the owner.
func Stats(stats domain.Stats) Reply {
	return Reply{Text: fmt.Sprintf("<b>📊 Bot Statistics</b>\n\n%s\n🕒 Time: %s UTC",
		counts(stats), stats.At.UTC().Format("2006-01-02 15:04"))}
}

func counts(stats domain.Stats) string {
	return fmt.Sprintf("👥 Total Users: %s\n✅ Verified: %s\n❌ Pending: %s",
		humanize.Comma(stats.Total), humanize.Comma(stats.Verified), humanize.Comma(stats.Pending()))
}

// MyStats shows the caller's own record.
func MyStats(user domain.User) Reply {
	status := "❌ not verified"
	if user.IsMember {
		status = "✅ verified"
	}

	var b strings.Builder
	b.WriteString("<b>📊 My Stats</b>\n\n")
	fmt.Fprintf(&b, "🆔 User ID: <code>%d</code>\n", user.UserID)
	if user.Username != "" {
		fmt.Fprintf(&b, "👤 Username: @%s\n", html.EscapeString(user.Username))
	}
	fmt.Fprintf(&b, "🔐 Status: %s\n", status)
	if !user.JoinDate.IsZero() {
		fmt.Fprintf(&b, "📅 Joined: %s UTC\n", user.JoinDate.UTC().Format("2006-01-02 15:04"))
	}
	if !user.LastActive.IsZero() {
		fmt.Fprintf(&b, "🕒 Last active: %s", humanize.Time(user.LastActive))
	}

	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}

// Profile renders a lookup result. Absent counters are omitted; the name
// falls back to N/A.
func Profile(p domain.Profile) Reply {
	name := p.FullName
	if strings.TrimSpace(name) == "" {
		name = "N/A"
	}

	var b strings.Builder
	b.WriteString("<b>📱 Instagram Info</b>\n\n")
	fmt.Fprintf(&b, "👤 Username: @%s\n", html.EscapeString(p.Username))
	fmt.Fprintf(&b, "📛 Name: %s", html.EscapeString(name))

	writeCount(&b, "👥 Followers", p.Followers)
	writeCount(&b, "🤝 Following", p.Following)
	writeCount(&b, "📸 Posts", p.Posts)

	if bio := strings.TrimSpace(p.Biography); bio != "" {
		fmt.Fprintf(&b, "\n📝 Bio:\n<pre>%s</pre>", html.EscapeString(TruncateBio(bio)))
	}

	return Reply{Text: b.String()}
}

func writeCount(b *strings.Builder, label string, value *int64) {
	if value == nil {
		return
	}
	fmt.Fprintf(b, "\n%s: %s", label, humanize.Comma(*value))
}

// TruncateBio cuts bio to MaxBioRunes runes and marks the cut with an
// ellipsis.
func TruncateBio(bio string) string {
	if utf8.RuneCountInString(bio) <= MaxBioRunes {
		return bio
	}
	runes := []rune(bio)
	return string(runes[:MaxBioRunes]) + ellipsis
}

// Fetching is the transient indicator shown while a lookup runs.
func Fetching(username string) Reply {
	return Reply{Text: fmt.Sprintf("🔍 <b>Fetching @%s...</b>", html.EscapeString(username))}
}

// NotFound reports a profile the API did not return.
func NotFound(username string) Reply {
	return Reply{Text: fmt.Sprintf("❌ <b>Couldn't find @%s</b>\nPlease check the username.", html.EscapeString(username))}
}

// Timeout reports a lookup that exceeded its deadline.
func Timeout() Reply {
	return Reply{Text: "⏱ <b>The request timed out.</b>\nPlease try again in a moment."}
}

// LookupError reports any other lookup failure.
func LookupError() Reply {
	return Reply{Text: "❌ <b>Error fetching data.</b>\nPlease try again later."}
}

// InvalidUsername rejects input that cannot be an Instagram handle.
func InvalidUsername() Reply {
	return Reply{Text: "⚠️ <b>That doesn't look like a username.</b>\nUse letters, digits, dots and underscores only (up to 30 characters)."}
}

// Unauthorized denies an owner-only action.
func Unauthorized() Reply {
	return Reply{Text: "⛔ <b>This action is only available to the bot owner.</b>"}
}

// GenericError is shown when a handler fails unexpectedly.
func GenericError() Reply {
	return Reply{Text: "⚠️ <b>An error occurred.</b>\nPlease try again later."}
}

// Help lists what the bot understands.
func Help() Reply {
	return Reply{Text: `<b>ℹ️ How to use this bot</b>

/start - check your membership and open the menu
/help - show this message

After joining the channel and the group, send any Instagram username (with or without @) to get its public profile info.`}
}
