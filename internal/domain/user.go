package domain

// User is the read-only identity record resolved by the identity directory.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// AuthenticatedUser is the identity the transport layer hands to the chat core.
type AuthenticatedUser struct {
	ID   int64  `json:"user_id"`
	Name string `json:"user_name"`
}
