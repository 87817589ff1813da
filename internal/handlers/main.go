package handlers

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"time"

	veowebui "github.com/MegaGrindStone/veo-web-ui"
	"github.com/MegaGrindStone/veo-web-ui/internal/conversation"
	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// PreviewStore manages the displayable references of staged images. Besides acquiring and releasing
// references on behalf of conversations, it serves the stored image behind a reference id.
type PreviewStore interface {
	conversation.PreviewStore
	Preview(ctx context.Context, id string) (models.Attachment, error)
}

// Config holds the tunables of the web surface.
type Config struct {
	// Greeting is the assistant message every chat session starts with. Empty disables it.
	Greeting string
	// SessionTTL is how long a chat session may stay idle before it is swept.
	SessionTTL time.Duration
	// MaxUploadBytes bounds the size of a staged image upload.
	MaxUploadBytes int64
	// SubmitRateLimit is the number of submits allowed per client within SubmitRateWindow.
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
	// AllowedOrigins lists the origins allowed to read the JSON state endpoint cross-origin.
	AllowedOrigins []string
}

// Main serves the landing page and the chat sessions, rendering pages from the embedded templates
// and pushing every conversation transition to the browser through server-sent events.
type Main struct {
	templates *template.Template

	generator conversation.Generator
	previews  PreviewStore
	sessions  *sessions

	cfg    Config
	logger *slog.Logger
}

const (
	// DefaultGreeting is the first message of every chat session unless configured otherwise.
	DefaultGreeting = "Hello! I'm your AI video generation assistant powered by Veo-v3. " +
		"Describe the video you'd like to create, and I'll generate it for you. " +
		"Be as detailed as possible about the scene, style, and mood you want."

	errLoggerKey = "err"
)

// SSE event types for real-time updates.
var (
	stateSSEType = sse.Type("state")
	closeSSEType = sse.Type("closeChat")
)

// NewMain creates a new Main instance with the provided generator and preview store. It parses the
// HTML templates from the embedded filesystem; zero values in cfg are replaced with defaults.
func NewMain(generator conversation.Generator, previews PreviewStore, cfg Config, logger *slog.Logger) (Main, error) {
	if generator == nil {
		return Main{}, errors.New("generator is required")
	}
	if previews == nil {
		return Main{}, errors.New("preview store is required")
	}

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(
		veowebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.SubmitRateLimit <= 0 {
		cfg.SubmitRateLimit = 30
	}
	if cfg.SubmitRateWindow <= 0 {
		cfg.SubmitRateWindow = time.Minute
	}

	return Main{
		templates: tmpl,
		generator: generator,
		previews:  previews,
		sessions:  newSessions(cfg.SessionTTL),
		cfg:       cfg,
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

// SweepSessions closes the chat sessions that stayed idle for longer than the configured TTL and
// returns how many were closed. Sessions with a running submission are never swept.
func (m Main) SweepSessions(ctx context.Context) int {
	expired := m.sessions.expired()
	for _, s := range expired {
		m.closeSession(ctx, s, true)
	}
	return len(expired)
}

// Shutdown gracefully terminates every chat session. It broadcasts a close message to the connected
// clients and waits up to 5 seconds for their connections to terminate. Running submissions are not
// waited for.
func (m Main) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	var errs []error
	for _, s := range m.sessions.drain() {
		if err := m.closeSession(ctx, s, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Main) closeSession(ctx context.Context, s *session, releasePreviews bool) error {
	e := &sse.Message{Type: closeSSEType}
	// Browsers drop events without data
	e.AppendData("bye")

	// We ignore the error here since the session is going away anyway
	_ = s.events.Publish(e)

	var errs []error
	if err := s.events.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if releasePreviews {
		if err := s.conversation.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	sessionClosed()

	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("Failed to close session",
			slog.String("sessionID", s.id),
			slog.String(errLoggerKey, err.Error()))
		return err
	}
	m.logger.Debug("Session closed", slog.String("sessionID", s.id))
	return nil
}
