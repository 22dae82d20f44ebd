package domain

import "time"

// User is the persisted record kept for every Telegram user the bot has seen.
// Display metadata follows last-write-wins; JoinDate is set once.
type User struct {
	UserID     int64     `bson:"user_id" json:"user_id"`
	Username   string    `bson:"username,omitempty" json:"username,omitempty"`
	FirstName  string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName   string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	IsMember   bool      `bson:"is_member" json:"is_member"`
	JoinDate   time.Time `bson:"join_date" json:"join_date"`
	LastActive time.Time `bson:"last_active" json:"last_active"`
}

// Identity is what an incoming update tells us about its sender.
type Identity struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName returns the best human-readable label for the identity.
func (i Identity) DisplayName() string {
	switch {
	case i.FirstName != "" && i.LastName != "":
		return i.FirstName + " " + i.LastName
	case i.FirstName != "":
		return i.FirstName
	case i.Username != "":
		return "@" + i.Username
	default:
		return "there"
	}
}
