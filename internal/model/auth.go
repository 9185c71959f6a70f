package model

// LoginRequest is the credential payload for /auth/login/.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email" validate:"required,email"`
	Password string `json:"password" binding:"required,min=8" validate:"required,min=8"`
}

// LoginResponse is the success body of /auth/login/.
type LoginResponse struct {
	OK      bool     `json:"ok"`
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    *User    `json:"user"`
	Usuario *Usuario `json:"usuario"`
}

// UserResponse is the body of /auth/user/, used for revalidation and refresh.
type UserResponse struct {
	User    *User    `json:"user"`
	Usuario *Usuario `json:"usuario"`
}

// SettingsUpdate is the partial preference payload for /auth/user/settings/.
type SettingsUpdate struct {
	RecibirNotificaciones bool `json:"recibir_notificaciones"`
}
