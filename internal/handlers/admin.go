package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/pgtemplate/internal/filters"
	"github.com/nkiryanov/pgtemplate/internal/handlers/params"
	"github.com/nkiryanov/pgtemplate/internal/handlers/render"
	"github.com/nkiryanov/pgtemplate/internal/logger"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/service/user"
)

// Listing headers
const (
	HeaderTotalCount = "X-Total-Count"
	HeaderDateFrom   = "X-Date-From"
	HeaderDateTill   = "X-Date-Till"
)

// AdminHandler manages any user; routes have to be guarded by admin auth
type AdminHandler struct {
	userService userService
	logger      logger.Logger
}

func NewAdmin(users userService, logger logger.Logger) *AdminHandler {
	return &AdminHandler{userService: users, logger: logger}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.bulkCreate)
	r.Delete("/", h.delete)
	r.Patch("/{username}", h.patch)
}

// list responds with a page of users; total count and created_at bounds of all matched users go to headers
func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	f, err := params.Filter[filters.UserFilter]("users", values)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	listing, err := params.Listing("users", values, h.userService.Ordering())
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	page := listing.PageRequest(h.userService.Paginator().MaxLimit())
	res, err := h.userService.List(r.Context(), s, f, listing.OrderBy, page)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	w.Header().Set(HeaderTotalCount, strconv.FormatInt(res.Total, 10))
	if res.Bounds.Min != nil {
		w.Header().Set(HeaderDateFrom, res.Bounds.Min.Format(time.RFC3339Nano))
	}
	if res.Bounds.Max != nil {
		w.Header().Set(HeaderDateTill, res.Bounds.Max.Format(time.RFC3339Nano))
	}

	items := res.Items
	if items == nil {
		items = []models.User{}
	}
	render.JSON(w, items)
}

// bulkCreate creates all users of the list or none of them
func (h *AdminHandler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	type NewUserRequest struct {
		Username   string         `json:"username" validate:"required,username"`
		Password   string         `json:"password" validate:"required,password"`
		IsAdmin    bool           `json:"is_admin"`
		IsActive   *bool          `json:"is_active"`
		Attributes map[string]any `json:"attributes"`
	}

	data, err := render.BindAndValidateList[NewUserRequest](w, r)
	if err != nil {
		return
	}

	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	users := make([]user.NewUser, 0, len(data))
	for _, d := range data {
		// Created by admin users are active unless said otherwise
		active := d.IsActive == nil || *d.IsActive
		users = append(users, user.NewUser{
			Username:   d.Username,
			Password:   d.Password,
			IsAdmin:    d.IsAdmin,
			IsActive:   active,
			Attributes: d.Attributes,
		})
	}

	created, err := h.userService.BulkCreate(r.Context(), s, users)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	render.JSONWithStatus(w, created, http.StatusCreated)
}

func (h *AdminHandler) patch(w http.ResponseWriter, r *http.Request) {
	type PatchRequest struct {
		Password *string `json:"password" validate:"omitnil,password"`
		IsAdmin  *bool   `json:"is_admin"`
		IsActive *bool   `json:"is_active"`
	}

	data, err := render.BindAndValidate[PatchRequest](w, r)
	if err != nil {
		return
	}

	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	u, err := h.userService.AdminPatch(r.Context(), s, chi.URLParam(r, "username"), user.AdminUpdate{
		Password: data.Password,
		IsAdmin:  data.IsAdmin,
		IsActive: data.IsActive,
	})
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	render.JSON(w, u)
}

// delete removes users by ?ids= with all their tokens
func (h *AdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	type DeleteResponse struct {
		Deleted int64 `json:"deleted"`
	}

	ids, err := params.IDs("users", "ids", r.URL.Query())
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	s, ok := dbSession(w, r, h.logger)
	if !ok {
		return
	}

	n, err := h.userService.Delete(r.Context(), s, ids)
	if err != nil {
		render.Error(w, err, h.logger)
		return
	}

	render.JSON(w, DeleteResponse{Deleted: n})
}
