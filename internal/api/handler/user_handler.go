package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ecommerce-platform/user-service/internal/core/ports"
)

type UserHandler struct {
	userService ports.UserService
}

func NewUserHandler(userService ports.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetProfile returns the caller's own account view.
//
// @Summary      Get own profile
// @Tags         users
// @Produce      json
// @Success      200  {object}  envelope
// @Security     BearerAuth
// @Router       /users/profile [get]
func (h *UserHandler) GetProfile(c echo.Context) error {
	userID, _, err := ctxClaims(c)
	if err != nil {
		return err
	}

	view, err := h.userService.Profile(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: map[string]any{"user": view}})
}

// UpdateProfile mutates the caller's allowed profile subset.
//
// @Summary      Update own profile
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        body  body      updateProfileRequest  true  "Fields to update"
// @Success      200   {object}  envelope
// @Security     BearerAuth
// @Router       /users/profile [put]
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	userID, _, err := ctxClaims(c)
	if err != nil {
		return err
	}

	var req updateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	view, err := h.userService.UpdateProfile(c.Request().Context(), userID, ports.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Address:   req.Address,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "Profile updated successfully",
		Data:    map[string]any{"user": view},
	})
}

// List returns a paginated user listing. Admin only.
//
// @Summary      List users
// @Tags         admin
// @Produce      json
// @Param        page   query     int  false  "Page number"   default(1)
// @Param        limit  query     int  false  "Page size"     default(10)
// @Success      200    {object}  envelope
// @Security     BearerAuth
// @Router       /users [get]
func (h *UserHandler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 10
	}

	users, total, err := h.userService.List(c.Request().Context(), page, limit)
	if err != nil {
		return err
	}

	totalPages := int(total) / limit
	if int(total)%limit != 0 {
		totalPages++
	}

	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Data: listUsersData{
			Users: users,
			Pagination: paginationResponse{
				Total:      total,
				Page:       page,
				Limit:      limit,
				TotalPages: totalPages,
			},
		},
	})
}

// Get returns a single user by id. Admin only.
//
// @Summary      Get user by id
// @Tags         admin
// @Produce      json
// @Param        id   path      string  true  "User id"
// @Success      200  {object}  envelope
// @Failure      404  {object}  envelope
// @Security     BearerAuth
// @Router       /users/{id} [get]
func (h *UserHandler) Get(c echo.Context) error {
	view, err := h.userService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: map[string]any{"user": view}})
}

// Activate re-enables an account. Admin only, idempotent.
//
// @Summary      Activate user
// @Tags         admin
// @Produce      json
// @Param        id   path      string  true  "User id"
// @Success      200  {object}  envelope
// @Failure      404  {object}  envelope
// @Security     BearerAuth
// @Router       /users/{id}/activate [put]
func (h *UserHandler) Activate(c echo.Context) error {
	view, err := h.userService.SetActive(c.Request().Context(), c.Param("id"), true)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "User activated successfully",
		Data:    map[string]any{"user": view},
	})
}

// Deactivate disables an account. Admin only, idempotent.
//
// @Summary      Deactivate user
// @Tags         admin
// @Produce      json
// @Param        id   path      string  true  "User id"
// @Success      200  {object}  envelope
// @Failure      404  {object}  envelope
// @Security     BearerAuth
// @Router       /users/{id}/deactivate [put]
func (h *UserHandler) Deactivate(c echo.Context) error {
	view, err := h.userService.SetActive(c.Request().Context(), c.Param("id"), false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Message: "User deactivated successfully",
		Data:    map[string]any{"user": view},
	})
}

// Delete removes an account. Admin only.
//
// @Summary      Delete user
// @Tags         admin
// @Produce      json
// @Param        id   path      string  true  "User id"
// @Success      200  {object}  envelope
// @Failure      404  {object}  envelope
// @Security     BearerAuth
// @Router       /users/{id} [delete]
func (h *UserHandler) Delete(c echo.Context) error {
	if err := h.userService.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Message: "User deleted successfully"})
}
