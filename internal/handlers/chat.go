package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MegaGrindStone/veo-web-ui/internal/metrics"
	"github.com/MegaGrindStone/veo-web-ui/internal/models"
	"github.com/MegaGrindStone/veo-web-ui/internal/services"
	"github.com/go-chi/chi/v5"
)

// HandleSubmit submits the "prompt" form field, together with any staged image, as the draft of the
// session.
//
// An accepted submit answers with the rendered conversation, which already holds the user message and
// the generating placeholder; the reply follows on the event stream. A submit with an empty draft, or
// one sent while a previous submit is still running, is ignored and answered with 204 No Content; the
// draft is left untouched.
func (m Main) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	if !sess.conversation.SubmitPrompt(r.Context(), r.FormValue("prompt")) {
		metrics.SubmissionsSkipped.Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	m.writeConversation(w, sess)
}

// HandleStageImage stages the "image" file of a multipart form as the draft attachment, replacing any
// image staged before.
func (m Main) HandleStageImage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, m.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(m.cfg.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Image is too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "Image is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		m.logger.Error("Failed to read uploaded image",
			slog.String("sessionID", sess.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	err = sess.conversation.StageImage(r.Context(), models.Attachment{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		m.logger.Error("Failed to stage image",
			slog.String("sessionID", sess.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeConversation(w, sess)
}

// HandleClearImage removes the staged image of the session.
func (m Main) HandleClearImage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sess.conversation.ClearStagedImage(r.Context())
	m.writeConversation(w, sess)
}

// HandleView renders the current conversation of the session. Clients fetch it once their event
// stream is connected, to catch up on transitions published before.
func (m Main) HandleView(w http.ResponseWriter, r *http.Request) {
	m.writeConversation(w, sessionFrom(r.Context()))
}

// HandleState answers with the current conversation of the session as JSON.
func (m Main) HandleState(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sess.conversation.Snapshot()); err != nil {
		m.logger.Error("Failed to encode state",
			slog.String("sessionID", sess.id),
			slog.String(errLoggerKey, err.Error()))
	}
}

// HandleEvents streams the transitions of the session's conversation as server-sent events.
func (m Main) HandleEvents(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sess.events.ServeHTTP(w, r)
}

// HandlePreview serves the bytes of a staged image preview.
func (m Main) HandlePreview(w http.ResponseWriter, r *http.Request) {
	img, err := m.previews.Preview(r.Context(), chi.URLParam(r, "previewID"))
	if err != nil {
		if errors.Is(err, services.ErrPreviewNotFound) {
			http.NotFound(w, r)
			return
		}
		m.logger.Error("Failed to load preview", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(img.Data)
}

// HandleHealth reports liveness along with the number of open sessions.
func (m Main) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": m.sessions.len(),
	})
}

func (m Main) writeConversation(w http.ResponseWriter, sess *session) {
	html, err := m.renderConversation(sess.id, sess.conversation.Snapshot())
	if err != nil {
		m.logger.Error("Failed to render conversation",
			slog.String("sessionID", sess.id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}
