package user

// Profile is the verified identity the external provider attaches to a
// request. UserID is always present; the name and email fields may be empty.
type Profile struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}
