package handler

import "github.com/ecommerce-platform/user-service/internal/core/domain"

// envelope is the standard response shape: {success, message, data?}.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// --- Request types ---

type registerRequest struct {
	FirstName       string `json:"first_name"       validate:"required,max=50"`
	LastName        string `json:"last_name"        validate:"required,max=50"`
	Email           string `json:"email"            validate:"required,email"`
	Password        string `json:"password"         validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	Phone           string `json:"phone,omitempty"  validate:"omitempty,max=20"`
	Address         string `json:"address,omitempty" validate:"omitempty,max=200"`
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password"     validate:"required,min=8"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Password        string `json:"password"         validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// --- Response payloads carried in envelope.Data ---

type authData struct {
	User  domain.UserView `json:"user"`
	Token string          `json:"token"`
}
