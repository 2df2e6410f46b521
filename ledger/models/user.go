package models

// DefaultPreferences is applied to every new user.
const DefaultPreferences = `{"notifications": true, "theme": "light"}`

// User owns cards and their point history. Password holds the bcrypt hash and
// is never serialized.
type User struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	Password    string `json:"-"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Preferences string `json:"preferences"`
}

// RegisterUser is the signup payload. Password arrives in clear text and is
// hashed before it reaches the repository.
type RegisterUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
