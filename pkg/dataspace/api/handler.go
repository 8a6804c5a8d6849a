package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// ActivityReader serves the activity summary. Both the replaying
// dataspace.ActivityIndex and the Redis index satisfy it.
type ActivityReader interface {
	Entries(ctx context.Context) ([]dataspace.ActivityIndexEntry, error)
}

const maxEventsPerRequest = 1000

// Handler serves the data space HTTP API. Every route expects the session
// set by Authenticator.
type Handler struct {
	core     *dataspace.Core
	activity ActivityReader
	admins   map[string]struct{}
	logger   *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithActivityReader replaces the default replaying activity index
func WithActivityReader(reader ActivityReader) Option {
	return func(h *Handler) {
		if reader != nil {
			h.activity = reader
		}
	}
}

// WithAdmins restricts the activity summary to the given principals. The
// audit log itself is always guarded by the store.
func WithAdmins(admins ...string) Option {
	return func(h *Handler) {
		if h.admins == nil {
			h.admins = make(map[string]struct{})
		}
		for _, admin := range admins {
			h.admins[admin] = struct{}{}
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a new handler
func NewHandler(core *dataspace.Core, opts ...Option) (*Handler, error) {
	if core == nil {
		return nil, fmt.Errorf("core is required")
	}
	h := &Handler{
		core:     core,
		activity: core.Activity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the API routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/spaces", h.CreateSpace)
	r.Get("/spaces", h.ListSpaces)
	r.Get("/spaces/{id}", h.GetSpace)
	r.Get("/spaces/{id}/members", h.ListMembers)
	r.Post("/spaces/{id}/members", h.AddMember)
	r.Put("/spaces/{id}/members/{principal}", h.SetRole)
	r.Delete("/spaces/{id}/members/{principal}", h.RemoveMember)

	r.Post("/events", h.RecordEvent)
	r.Get("/events", h.ListEvents)
	r.Post("/audit/protect", h.Protect)
	r.Get("/activity", h.Activity)

	r.Get("/invitations", h.ListInvitations)
	r.Post("/invitations/{id}/ack", h.AcknowledgeInvitation)

	return r
}

// CreateSpaceRequest is the request body for creating a data space
type CreateSpaceRequest struct {
	ID              string   `json:"id,omitempty"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Purpose         string   `json:"purpose,omitempty"`
	AccessMode      string   `json:"accessMode,omitempty"`
	StorageLocation string   `json:"storageLocation"`
	Tags            []string `json:"tags,omitempty"`
}

// MemberRequest is the request body for adding a member or changing a role
type MemberRequest struct {
	Principal string `json:"principal,omitempty"`
	Role      string `json:"role"`
}

// CreateSpace creates a data space owned by the caller
func (h *Handler) CreateSpace(w http.ResponseWriter, r *http.Request) {
	var req CreateSpaceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	space, err := h.core.Members.CreateSpace(r.Context(), dataspace.CreateSpaceRequest{
		ID:              req.ID,
		Title:           req.Title,
		Description:     req.Description,
		Purpose:         req.Purpose,
		AccessMode:      dataspace.AccessMode(req.AccessMode),
		StorageLocation: req.StorageLocation,
		Tags:            req.Tags,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, space)
}

// ListSpaces lists the spaces visible to the caller, or only those of
// ?member=<principal> (use "me" for the caller). Callers see public spaces
// and spaces they belong to; audit admins see everything.
func (h *Handler) ListSpaces(w http.ResponseWriter, r *http.Request) {
	var (
		spaces []*dataspace.DataSpace
		err    error
	)
	switch member := r.URL.Query().Get("member"); member {
	case "":
		spaces, err = h.core.Members.ListSpaces(r.Context())
	case "me":
		spaces, err = h.core.Members.ListSpacesForMember(r.Context(), principal(r))
	default:
		spaces, err = h.core.Members.ListSpacesForMember(r.Context(), member)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, h.visible(principal(r), spaces))
}

func (h *Handler) visible(caller string, spaces []*dataspace.DataSpace) []*dataspace.DataSpace {
	out := make([]*dataspace.DataSpace, 0, len(spaces))
	_, admin := h.admins[caller]
	for _, space := range spaces {
		if _, member := space.Member(caller); admin || member || space.AccessMode == dataspace.AccessPublic {
			out = append(out, space)
		}
	}
	return out
}

// GetSpace returns one data space
func (h *Handler) GetSpace(w http.ResponseWriter, r *http.Request) {
	space, err := h.core.Members.GetSpace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, space)
}

// ListMembers returns the members of a data space
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.core.Members.ListMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, members)
}

// AddMember grants a principal a role in the space
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Principal == "" {
		writeError(w, r, fmt.Errorf("%w: principal is required", errInvalidRequest))
		return
	}

	space, err := h.core.Members.AddMember(r.Context(), chi.URLParam(r, "id"), req.Principal, dataspace.Role(req.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, space)
}

// SetRole changes a member's role
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	space, err := h.core.Members.SetRole(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "principal"), dataspace.Role(req.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, space)
}

// RemoveMember revokes a membership
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	space, err := h.core.Members.RemoveMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "principal"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, space)
}

// RecordEventRequest is the request body for recording a client event
type RecordEventRequest struct {
	Action     string                     `json:"action"`
	Object     string                     `json:"object,omitempty"`
	Target     string                     `json:"target,omitempty"`
	Extensions map[string]json.RawMessage `json:"extensions,omitempty"`
}

// EventResponse pairs a stored event with its handle
type EventResponse struct {
	Handle dataspace.EventHandle `json:"handle"`
	Event  json.RawMessage       `json:"event"`
}

// RecordEvent appends a Login or Interaction event for the caller. Other
// actions are recorded by the server itself.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req RecordEventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	action := dataspace.Action(req.Action)
	if action != dataspace.ActionLogin && action != dataspace.ActionInteraction {
		writeError(w, r, fmt.Errorf("%w: clients may only record %s and %s events", errInvalidRequest, dataspace.ActionLogin, dataspace.ActionInteraction))
		return
	}

	event := dataspace.AuditEvent{
		Action:     action,
		Object:     req.Object,
		Target:     req.Target,
		Extensions: req.Extensions,
	}

	handle, err := h.core.AuditLog.Append(r.Context(), event)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]dataspace.EventHandle{"handle": handle})
}

// ListEvents returns events after ?since=<handle>, at most ?limit=<n>.
// Only audit admins can read the log.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := maxEventsPerRequest
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: invalid limit %q", errInvalidRequest, raw))
			return
		}
		limit = min(n, maxEventsPerRequest)
	}

	seq, err := h.core.AuditLog.List(r.Context(), dataspace.EventHandle(r.URL.Query().Get("since")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	events := []EventResponse{}
	for handle, event := range seq {
		data, err := dataspace.EncodeEvent(event)
		if err != nil {
			h.logger.Warn("failed to encode event", "handle", handle, "error", err)
			continue
		}
		events = append(events, EventResponse{Handle: handle, Event: data})
		if len(events) == limit {
			break
		}
	}
	render.JSON(w, r, events)
}

// Protect reconciles the audit container's access control as the caller
func (h *Handler) Protect(w http.ResponseWriter, r *http.Request) {
	if err := h.core.AuditLog.Protect(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activity returns the per-principal activity summary
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	if h.admins != nil {
		if _, ok := h.admins[principal(r)]; !ok {
			writeError(w, r, dataspace.ErrPermissionDenied)
			return
		}
	}

	entries, err := h.activity.Entries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []dataspace.ActivityIndexEntry{}
	}
	render.JSON(w, r, entries)
}

// ListInvitations returns the caller's pending invitations
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.core.Invitations.Poll(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invitations == nil {
		invitations = []dataspace.Invitation{}
	}
	render.JSON(w, r, invitations)
}

// AcknowledgeInvitation marks an invitation as seen by the caller
func (h *Handler) AcknowledgeInvitation(w http.ResponseWriter, r *http.Request) {
	h.core.Invitations.Acknowledge(principal(r), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func principal(r *http.Request) string {
	return dataspace.SessionFromContext(r.Context()).Principal()
}

func decode(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}
