package model

// Credentials is the token/identity pair persisted by the token store. The
// pair is always written and cleared as a whole, never field by field.
type Credentials struct {
	Token    string    `json:"token"`
	Identity *Identity `json:"identity"`
}
