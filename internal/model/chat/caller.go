package chat

// Caller identifies who issued a request.
type Caller struct {
	UserID string
	// Key is the rate limit bucket; empty falls back to the user id.
	Key string
}

// Owner returns the user that owns sessions created by this caller.
func (c Caller) Owner() string {
	if c.UserID == "" {
		return AnonymousUser
	}
	return c.UserID
}

// LimitKey returns the bucket charged for this caller's requests.
func (c Caller) LimitKey() string {
	if c.Key != "" {
		return c.Key
	}
	return c.Owner()
}
