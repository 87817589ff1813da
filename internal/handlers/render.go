package handlers

import (
	"bytes"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/veo-web-ui/internal/conversation"
	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// chatData is what the chat page and its partials are rendered from.
type chatData struct {
	SessionID string
	State     conversation.State
}

// Raw HTML in message content is escaped by goldmark, since the renderer is not created with
// html.WithUnsafe.
var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
)

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"markdown": renderMarkdown,
		"clock":    func(t time.Time) string { return t.Format("15:04") },
		"isUser":   func(m models.Message) bool { return m.Role == models.RoleUser },
	}
}

func renderMarkdown(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (m Main) renderConversation(sessionID string, state conversation.State) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "conversation", chatData{
		SessionID: sessionID,
		State:     state,
	}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// publisher returns the observer that pushes every transition of a conversation to the session's
// event stream as a fully rendered conversation partial.
func (m Main) publisher(sessionID string, events *sse.Server) func(conversation.State) {
	return func(state conversation.State) {
		html, err := m.renderConversation(sessionID, state)
		if err != nil {
			m.logger.Error("Failed to render conversation",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			return
		}

		msg := sse.Message{
			Type: stateSSEType,
		}
		msg.AppendData(html)
		if err := events.Publish(&msg); err != nil {
			m.logger.Error("Failed to publish conversation",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
		}
	}
}
