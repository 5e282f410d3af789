package handler

import "github.com/ecommerce-platform/user-service/internal/core/domain"

type updateProfileRequest struct {
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=50"`
	LastName  *string `json:"last_name,omitempty"  validate:"omitempty,max=50"`
	Phone     *string `json:"phone,omitempty"      validate:"omitempty,max=20"`
	Address   *string `json:"address,omitempty"    validate:"omitempty,max=200"`
}

type paginationResponse struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

type listUsersData struct {
	Users      []domain.UserView  `json:"users"`
	Pagination paginationResponse `json:"pagination"`
}
