package domain

// MembershipStatus holds the two chat checks behind the gate. It is never
// persisted.
type MembershipStatus struct {
	Channel bool
	Group   bool
}

// Passing reports whether both memberships hold.
func (s MembershipStatus) Passing() bool {
	return s.Channel && s.Group
}

// VerifyOutcome tags the result of a membership verification.
type VerifyOutcome string

const (
	// OutcomeVerified means both chats report the user as a member.
	OutcomeVerified VerifyOutcome = "verified"
	// OutcomeNotVerified means at least one chat reports a non-member status.
	OutcomeNotVerified VerifyOutcome = "not_verified"
	// OutcomeCheckFailed means the platform could not answer.
	OutcomeCheckFailed VerifyOutcome = "check_failed"
)

// VerifyResult is returned by the membership verifier. Err is only set for
// OutcomeCheckFailed.
type VerifyResult struct {
	Outcome VerifyOutcome
	Status  MembershipStatus
	Err     error
}
