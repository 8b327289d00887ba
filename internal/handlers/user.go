package handlers

import (
	"net/http"

	"github.com/nkiryanov/pgtemplate/internal/handlers/render"
	"github.com/nkiryanov/pgtemplate/internal/handlers/userctx"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/service/user"
)

// UserHandler serves user's own account
type UserHandler struct {
	userService userService
	logger      logger.Logger
}

func NewUser(users userService, logger logger.Logger) *UserHandler {
	return &UserHandler{userService: users, logger: logger}
}

func (h *UserHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username string `json:"username" validate:"required,username"`
		Password string `json:"password" validate:"required,password"`
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		return
	}

	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	u, err := h.userService.Register(r.Context(), s, data.Username, data.Password)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	render.JSONWithStatus(w, u, http.StatusCreated)
}

func (h *UserHandler) me(w http.ResponseWriter, r *http.Request) {
	session, _ := userctx.FromContext(r.Context())
	render.JSON(w, session.User)
}

// New password revokes every pair issued before, the current one included
func (h *UserHandler) updateMe(w http.ResponseWriter, r *http.Request) {
	type UpdateRequest struct {
		Password   *string        `json:"password" validate:"omitnil,password"`
		Attributes map[string]any `json:"attributes"`
	}

	data, err := render.BindAndValidate[UpdateRequest](w, r)
	if err != nil {
		return
	}

	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	session, _ := userctx.FromContext(r.Context())
	u, err := h.userService.UpdateMe(r.Context(), s, session.User, user.ProfileUpdate{
		Password:   data.Password,
		Attributes: data.Attributes,
	})
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	render.JSON(w, u)
}
