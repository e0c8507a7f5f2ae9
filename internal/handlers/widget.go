package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"support-widget-server/internal/db"
	"support-widget-server/internal/logger"
	"support-widget-server/internal/service"
	"support-widget-server/internal/widget"
)

// widgetPage is a fresh page load: the organization is read from the query
// and the widget resolves from loading.
func (h *Handler) widgetPage(w http.ResponseWriter, r *http.Request) {
	state := h.Cookies.Load(r)
	org, _ := widget.OrganizationIDFromQuery(r.URL.Query())
	state.Reload(org)
	if err := state.Resolve(r.Context(), h.ContactSessions); err != nil {
		logger.Error("widget_resolve_failed", "organization", org, "error", err)
		_, msg := statusFor(err)
		state.Fail(msg)
	}
	h.renderWidget(w, r, state, widget.Page{})
}

func (h *Handler) widgetAuth(w http.ResponseWriter, r *http.Request) {
	state := h.Cookies.Load(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if state.OrganizationID == "" {
		state.Fail(widget.MessageOrganizationRequired)
		h.renderWidget(w, r, state, widget.Page{})
		return
	}

	cs, err := h.ContactSessions.Create(r.Context(), service.CreateContactSessionInput{
		Name:           r.PostForm.Get("name"),
		Email:          r.PostForm.Get("email"),
		OrganizationID: state.OrganizationID,
		Metadata:       requestMetadata(r),
	})
	if errors.Is(err, service.ErrInvalidInput) {
		state.Screen = widget.ScreenAuth
		_, msg := statusFor(err)
		h.renderWidget(w, r, state, widget.Page{FormError: msg})
		return
	}
	if err != nil {
		logger.Error("widget_contact_session_failed", "organization", state.OrganizationID, "error", err)
		_, msg := statusFor(err)
		state.Fail(msg)
		h.renderWidget(w, r, state, widget.Page{})
		return
	}
	h.Metrics.ContactSessionsCreated.Inc()
	state.SetContactSessionID(state.OrganizationID, cs.ID)
	state.Screen = widget.ScreenSelection
	h.renderWidget(w, r, state, widget.Page{})
}

func (h *Handler) widgetBack(w http.ResponseWriter, r *http.Request) {
	state := h.Cookies.Load(r)
	state.Back()
	h.renderWidget(w, r, state, widget.Page{})
}

func (h *Handler) widgetScreen(w http.ResponseWriter, r *http.Request) {
	state := h.Cookies.Load(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	screen, ok := widget.ParseScreen(r.PostForm.Get("screen"))
	if !ok {
		http.Error(w, "unknown screen", http.StatusBadRequest)
		return
	}
	state.Screen = screen
	if id := strings.TrimSpace(r.PostForm.Get("conversation_id")); id != "" {
		state.ConversationID = id
	}
	h.renderWidget(w, r, state, widget.Page{})
}

func (h *Handler) fetchConversation(ctx context.Context, conversationID, contactSessionID string) (any, error) {
	conv, err := h.Conversations.GetOne(ctx, conversationID, contactSessionID)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (h *Handler) renderWidget(w http.ResponseWriter, r *http.Request, state *widget.State, page widget.Page) {
	if state.Screen == widget.ScreenChat {
		chat, err := widget.LoadConversation(r.Context(), h.fetchConversation,
			state.ConversationID, state.ContactSessionID(state.OrganizationID))
		if err != nil {
			_, msg := statusFor(err)
			state.Fail(msg)
		}
		page.Chat = chat
	}
	page.State = state

	c, err := h.Cookies.Cookie(state)
	if err != nil {
		logger.Error("widget_state_encode_failed", "screen", state.Screen, "error", err)
	} else {
		http.SetCookie(w, c)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.View.Render(w, page); err != nil {
		logger.Error("widget_render_failed", "screen", state.Screen, "error", err)
	}
}

// requestMetadata collects what the browser tells us about the visitor.
func requestMetadata(r *http.Request) *db.Metadata {
	md := &db.Metadata{
		UserAgent:        r.UserAgent(),
		Referrer:         r.Referer(),
		Timezone:         r.PostForm.Get("timezone"),
		ScreenResolution: r.PostForm.Get("screen_resolution"),
		Viewport:         r.PostForm.Get("viewport"),
		CurrentURL:       r.PostForm.Get("current_url"),
	}
	tags, weights, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil {
		logger.Debug("accept_language_unparsed", "error", err)
		return md
	}
	for i, tag := range tags {
		lang := tag.String()
		// "*" parses as mul
		if lang == "und" || lang == "mul" || weights[i] <= 0 {
			continue
		}
		if md.Language == "" {
			md.Language = lang
		}
		md.Languages = append(md.Languages, lang)
	}
	return md
}
