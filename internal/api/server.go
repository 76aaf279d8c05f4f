package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"

	"github.com/timzhangherenow/product-contextualizer/internal/config"
	"github.com/timzhangherenow/product-contextualizer/internal/models"
	"github.com/timzhangherenow/product-contextualizer/internal/service"
)

type Server struct {
	addr           string
	adminUsername  string
	adminPassword  string
	maxUploadBytes int64
	log            *slog.Logger
	users          *service.UserService
	ledger         *service.LedgerService
	generation     *service.GenerationService
	validate       *validator.Validate
	handler        http.Handler
}

func NewServer(cfg config.Config, log *slog.Logger, users *service.UserService, ledger *service.LedgerService, generation *service.GenerationService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:           cfg.ListenAddr,
		adminUsername:  cfg.AdminUsername,
		adminPassword:  cfg.AdminPassword,
		maxUploadBytes: cfg.MaxUploadBytes,
		log:            log,
		users:          users,
		ledger:         ledger,
		generation:     generation,
		validate:       validator.New(),
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", s.handleRefresh)
			r.Post("/generations", s.handleGenerate)
			r.Get("/generations/current", s.handleGenerationStatus)
			r.Delete("/generations/current", s.handleGenerationReset)
		})
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(s.basicAuthMiddleware())
			admin.Get("/users", s.handleListUsers)
			admin.Put("/users/{id}/balance", s.handleSetBalance)
		})
	})

	// The UI is a browser SPA served from another origin.
	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler(r)

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Handler exposes the assembled routes for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	User    *models.User `json:"user"`
	IsAdmin bool         `json:"is_admin"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errInvalidJSON)
		return
	}

	user, err := s.users.Login(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginResponse{
		User:    user,
		IsAdmin: s.users.IsAdmin(user.Email),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

type generateForm struct {
	Region     string `validate:"max=120"`
	Scenario   string `validate:"required"`
	Resolution string `validate:"omitempty,oneof=1K 2K 4K"`
}

type generationResponse struct {
	State     models.GenerationState `json:"state"`
	ImageData string                 `json:"image_data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	User      *models.User           `json:"user,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.writeError(w, errInvalidUpload)
		return
	}

	form := generateForm{
		Region:     strings.TrimSpace(r.FormValue("region")),
		Scenario:   strings.TrimSpace(r.FormValue("scenario")),
		Resolution: strings.TrimSpace(r.FormValue("resolution")),
	}
	if err := s.validate.Struct(form); err != nil {
		if form.Scenario == "" {
			s.writeError(w, service.ErrMissingScenario)
			return
		}
		s.writeError(w, errInvalidForm)
		return
	}
	if form.Resolution == "" {
		form.Resolution = string(models.Resolution1K)
	}

	image, mimeType, err := s.readImage(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cfg := models.ProductConfig{
		Region:     form.Region,
		Scenario:   form.Scenario,
		Resolution: models.Resolution(form.Resolution),
	}

	result, err := s.generation.Submit(r.Context(), userID, image, mimeType, cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The debit already landed (or was deliberately forgiven); hand the UI
	// the authoritative balance rather than letting it compute its own.
	user, err := s.users.Refresh(r.Context(), userID)
	if err != nil {
		s.log.Error("refresh after generation", "user_id", userID, "err", err)
	}

	s.writeJSON(w, http.StatusOK, generationResponse{
		State:     models.StateSuccess,
		ImageData: result.ImageData,
		User:      user,
	})
}

func (s *Server) readImage(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", service.ErrMissingImage
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("read image upload: %w", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", service.ErrMissingImage
	}
	return data, mimeType, nil
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.generation.Status(chi.URLParam(r, "id"))
	resp := generationResponse{State: sess.State, Error: sess.ErrorMessage}
	if sess.Result != nil {
		resp.ImageData = sess.Result.ImageData
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerationReset(w http.ResponseWriter, r *http.Request) {
	if err := s.generation.Reset(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

type setBalanceRequest struct {
	Balance int `json:"balance"`
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var req setBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errInvalidJSON)
		return
	}

	user, err := s.ledger.SetBalance(r.Context(), chi.URLParam(r, "id"), req.Balance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.adminUsername || pass != s.adminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="contextualizer"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
