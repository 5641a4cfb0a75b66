package domain

// Strategy is the catalog item a chat thread is about.
type Strategy struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	OwnerID int64  `json:"owner_id"`
}
