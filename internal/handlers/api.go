package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"support-widget-server/internal/auth"
	"support-widget-server/internal/service"
)

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	JSONWrite(w, http.StatusOK, users)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &body, true); err != nil {
		handleError(w, r, err)
		return
	}
	id, err := h.Users.Create(r.Context(), auth.IdentityFromContext(r.Context()), body.Name)
	if reason := rejectionReason(r, err); reason != "" {
		h.Metrics.IdentityRejections.WithLabelValues(reason).Inc()
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.Metrics.UsersCreated.Inc()
	JSONWrite(w, http.StatusCreated, map[string]string{"id": id})
}

// rejectionReason names why a request needing an identity was refused, once
// per request: the header check wins over the service error it causes.
func rejectionReason(r *http.Request, err error) string {
	switch {
	case errors.Is(err, service.ErrNotAuthenticated):
		if reason := auth.RejectionFromContext(r.Context()); reason != "" {
			return reason
		}
		return "not_authenticated"
	case errors.Is(err, service.ErrNoOrganization):
		return "no_organization"
	}
	return ""
}

func (h *Handler) createContactSession(w http.ResponseWriter, r *http.Request) {
	var in service.CreateContactSessionInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		handleError(w, r, err)
		return
	}
	cs, err := h.ContactSessions.Create(r.Context(), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.Metrics.ContactSessionsCreated.Inc()
	JSONWrite(w, http.StatusCreated, cs)
}

func (h *Handler) validateContactSession(w http.ResponseWriter, r *http.Request) {
	v, err := h.ContactSessions.Validate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleError(w, r, err)
		return
	}
	JSONWrite(w, http.StatusOK, v)
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrganizationID   string `json:"organization_id"`
		ContactSessionID string `json:"contact_session_id"`
	}
	if err := decodeJSON(w, r, &body, false); err != nil {
		handleError(w, r, err)
		return
	}
	conv, err := h.Conversations.Create(r.Context(), body.OrganizationID, body.ContactSessionID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	JSONWrite(w, http.StatusCreated, conv)
}

func contactSessionParam(r *http.Request) string {
	return r.URL.Query().Get("contactSessionId")
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Conversations.List(r.Context(), contactSessionParam(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	JSONWrite(w, http.StatusOK, convs)
}

// getConversation answers null for a conversation that does not exist.
func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Conversations.GetOne(r.Context(), mux.Vars(r)["id"], contactSessionParam(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	JSONWrite(w, http.StatusOK, conv)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Messages.List(r.Context(), mux.Vars(r)["id"], contactSessionParam(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	JSONWrite(w, http.StatusOK, msgs)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ContactSessionID string `json:"contact_session_id"`
		Content          string `json:"content"`
	}
	if err := decodeJSON(w, r, &body, false); err != nil {
		handleError(w, r, err)
		return
	}
	msg, err := h.Messages.Send(r.Context(), mux.Vars(r)["id"], body.ContactSessionID, body.Content)
	if err != nil {
		handleError(w, r, err)
		return
	}
	JSONWrite(w, http.StatusCreated, msg)
}
