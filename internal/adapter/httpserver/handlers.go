package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/clinical-pilot/internal/config"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
	"github.com/fairyhunter13/clinical-pilot/internal/usecase"
)

// ProviderPinger runs the provider connectivity test.
type ProviderPinger interface {
	Ping(ctx context.Context, model string) gemini.PingResult
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Chat       usecase.ChatService
	History    usecase.HistoryService
	Pinger     ProviderPinger
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
// pinger may be nil when the mock LLM is enabled.
func NewServer(cfg config.Config, chat usecase.ChatService, history usecase.HistoryService, pinger ProviderPinger, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Chat: chat, History: history, Pinger: pinger, DBCheck: dbCheck, RedisCheck: redisCheck}
}

// ChatHandler accepts a multipart form with an optional image part, or a JSON body.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		var (
			req      chatRequest
			imageURL string
			imageRef string
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
			if err := r.ParseMultipartForm(maxBytes); err != nil {
				var mbe *http.MaxBytesError
				if errors.As(err, &mbe) || strings.Contains(strings.ToLower(err.Error()), "too large") {
					writeStatus(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "payload too large", map[string]any{"max_mb": s.Cfg.MaxUploadMB})
					return
				}
				writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
				return
			}
			req.Message = r.FormValue("message")
			req.ConversationID = r.FormValue("conversationId")
			if f, h, err := r.FormFile("image"); err == nil {
				saved, err := saveImage(s.Cfg.UploadsDir, f, h, maxBytes)
				_ = f.Close()
				switch {
				case errors.Is(err, errTooLarge):
					writeStatus(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "payload too large", map[string]any{"max_mb": s.Cfg.MaxUploadMB})
					return
				case errors.Is(err, errUnsupportedMedia):
					writeStatus(w, http.StatusUnsupportedMediaType, "INVALID_ARGUMENT", err.Error(), map[string]any{"filename": h.Filename})
					return
				case err != nil:
					writeError(w, r, err, nil)
					return
				}
				LoggerFrom(r).Info("image uploaded", slog.String("file", saved.Name), slog.String("mime", saved.Mime), slog.Int64("size", saved.Size))
				imageURL = publicUploadURL(r, saved.Name)
				imageRef = saved.Name
			} else if !errors.Is(err, http.ErrMissingFile) {
				writeError(w, r, fmt.Errorf("%w: image: %v", domain.ErrInvalidArgument, err), nil)
				return
			}
		} else {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
		}

		req.normalize()
		if details, err := validateStruct(req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if imageRef == "" && req.ImageURL != "" {
			name, ok := ownUploadName(r, req.ImageURL)
			if !ok {
				writeError(w, r, fmt.Errorf("%w: imageUrl must reference an uploaded image", domain.ErrInvalidArgument),
					map[string]string{"imageurl": "upload"})
				return
			}
			imageURL, imageRef = publicUploadURL(r, name), name
		}

		resp, err := s.Chat.ProcessChat(r.Context(), usecase.ChatRequest{
			Message:        req.Message,
			ConversationID: req.ConversationID,
			ImageURL:       imageURL,
			ImageRef:       imageRef,
		})
		if err != nil {
			var details interface{}
			if resp.ConversationID != "" {
				details = map[string]string{"conversationId": resp.ConversationID}
			}
			writeError(w, r, err, details)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ChatTestHandler sends a one-shot connectivity probe to the provider.
func (s *Server) ChatTestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Pinger == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"success": false,
				"message": "provider connectivity test unavailable while the mock LLM is enabled",
			})
			return
		}
		res := s.Pinger.Ping(r.Context(), strings.TrimSpace(r.URL.Query().Get("model")))
		if !res.Success {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success":    false,
				"model":      res.Model,
				"message":    "Gemini API connection failed",
				"status":     res.Status,
				"error":      res.Message,
				"retryDelay": res.RetryHint,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"model":    res.Model,
			"message":  "Gemini API connection successful",
			"response": res.Text,
		})
	}
}

// ListHistoryHandler returns conversation summaries, newest first.
func (s *Server) ListHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := s.History.List(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GetHistoryHandler returns one conversation with all messages.
func (s *Server) GetHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := s.History.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

// RenameHistoryHandler sets a conversation title.
func (s *Server) RenameHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		req.normalize()
		if details, err := validateStruct(req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if err := s.History.Rename(r.Context(), id, req.Title); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Conversation renamed successfully",
			"id":      id,
			"title":   req.Title,
		})
	}
}

// DeleteHistoryHandler removes a conversation.
func (s *Server) DeleteHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.History.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Conversation deleted successfully",
			"id":      id,
		})
	}
}

// HealthHandler reports liveness plus database state and provider mode.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		db := "unknown"
		if s.DBCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			db = "up"
			if err := s.DBCheck(ctx); err != nil {
				db = "down"
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"db":     db,
			"env": map[string]any{
				"mock":     s.Cfg.UseMockLLM,
				"provider": s.Cfg.LLMProvider,
			},
		})
	}
}

// ReadyzHandler probes the database and Redis.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		probes := []struct {
			name string
			fn   func(context.Context) error
		}{{"db", s.DBCheck}, {"redis", s.RedisCheck}}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				ok = false
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: p.name, OK: true})
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
