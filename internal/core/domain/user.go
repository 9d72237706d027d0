package domain

// UserSummary is a search hit.
type UserSummary struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Handle string `json:"handle,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// SearchResult is delivered once per debounced query.
type SearchResult struct {
	Query string        `json:"query"`
	Users []UserSummary `json:"users"`
	Err   string        `json:"error,omitempty"`
}
