package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/veo-web-ui/internal/conversation"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// HandleHome renders the landing page. It holds no state; its only action is a plain link to the
// chat page.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if err := m.templates.ExecuteTemplate(w, "home.html", nil); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChat starts a new chat session and renders the chat page for it. Every load of the page is a
// new session: nothing carries over from a previous one.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	sess := &session{
		id:     uuid.New().String(),
		events: &sse.Server{},
	}
	sess.conversation = conversation.New(m.generator, m.previews,
		conversation.WithLogger(m.logger),
		conversation.WithGreeting(m.cfg.Greeting),
		conversation.WithObserver(m.publisher(sess.id, sess.events)),
	)
	m.sessions.add(sess)

	m.logger.Debug("Session started", slog.String("sessionID", sess.id))

	err := m.templates.ExecuteTemplate(w, "chat.html", chatData{
		SessionID: sess.id,
		State:     sess.conversation.Snapshot(),
	})
	if err != nil {
		m.logger.Error("Failed to render chat page",
			slog.String("sessionID", sess.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
