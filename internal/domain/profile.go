package domain

// Profile is the display-ready result of a profile lookup. Nil counters were
// absent from the API response.
type Profile struct {
	Username  string
	FullName  string
	Followers *int64
	Following *int64
	Posts     *int64
	Biography string
}
