package handler

import (
	"compress/flate"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	ngsi "github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/ngsi-ld"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/auth"
	fiwarecontext "github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/fiware/context"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/metrics"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/pinstore"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/ratelimit"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//Services are the collaborators the request handlers delegate to
type Services struct {
	Hub            *pinstore.Hub
	Auth           *auth.Authenticator
	CreateLimiter  ratelimit.Limiter
	Map            domain.MapSettings
	AllowedOrigins []string
}

//RequestRouter wraps the concrete router implementation
type RequestRouter struct {
	impl *chi.Mux
}

func (router *RequestRouter) addNGSIHandlers(contextRegistry ngsi.ContextRegistry) {
	router.Get("/ngsi-ld/v1/entities", ngsi.NewQueryEntitiesHandler(contextRegistry))
	router.Post("/ngsi-ld/v1/entities", ngsi.NewCreateEntityHandler(contextRegistry))
}

func (router *RequestRouter) addAuthHandlers(svc Services) {
	router.Post("/api/auth/register", newRegisterHandler(svc.Auth))
	router.Post("/api/auth/signin", newSignInHandler(svc.Auth))
	router.Post("/api/auth/signout", signOut)
	router.impl.With(auth.RequireIdentity).Get("/api/auth/me", newMeHandler(svc.Auth))
}

func (router *RequestRouter) addPinHandlers(svc Services) {
	router.Get("/api/catalog", newCatalogHandler(svc.Hub))
	router.Get("/api/markers", newMarkersHandler(svc.Hub))
	router.Get("/api/map", newMapHandler(svc.Map, svc.Hub))
	router.Get("/api/tutorial", newTutorialHandler(svc.Hub))

	router.Get("/api/pins", newListPinsHandler(svc.Hub))
	router.Get("/api/pins/stream", newStreamPinsHandler(svc.Hub))
	router.impl.With(auth.RequireIdentity).Delete("/api/pins/{id}", newDeletePinHandler(svc.Hub))

	create := router.impl.With(auth.RequireIdentity)
	if svc.CreateLimiter != nil {
		create = create.With(ratelimit.Middleware(svc.CreateLimiter))
	}
	create.Post("/api/pins", newCreatePinHandler(svc.Hub))
}

func (router *RequestRouter) addOperationalHandlers(svc Services) {
	router.Get("/healthz", newHealthHandler(svc.Hub))
	router.impl.Handle("/metrics", metrics.Handler())
}

func (router *RequestRouter) Post(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Post(pattern, handlerFn)
}

func (router *RequestRouter) Get(pattern string, handlerFn http.HandlerFunc) {
	router.impl.Get(pattern, handlerFn)
}

func newRequestRouter(allowedOrigins []string) *RequestRouter {
	router := &RequestRouter{impl: chi.NewRouter()}

	router.impl.Use(cors.New(corsOptions(allowedOrigins)).Handler)

	// Enable gzip compression for json and ngsi-ld responses, event streams are left alone
	compressor := middleware.NewCompressor(flate.DefaultCompression, "application/json", "application/ld+json")
	router.impl.Use(compressor.Handler)
	router.impl.Use(middleware.Logger)

	return router
}

//corsOptions only lets listed origins send the session cookie. Any wildcard origin turns
//credentials off, callers from such origins authenticate with the Authorization header instead.
func corsOptions(allowedOrigins []string) cors.Options {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	credentials := true
	for _, origin := range allowedOrigins {
		if strings.Contains(origin, "*") {
			credentials = false
		}
	}

	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: credentials,
		Debug:            false,
	}
}

func createRequestRouter(contextRegistry ngsi.ContextRegistry, svc Services) *RequestRouter {
	router := newRequestRouter(svc.AllowedOrigins)

	router.impl.Use(svc.Auth.Middleware)

	router.addNGSIHandlers(contextRegistry)
	router.addAuthHandlers(svc)
	router.addPinHandlers(svc)
	router.addOperationalHandlers(svc)

	return router
}

//NewRouter registers all handlers and returns the resulting http.Handler
func NewRouter(svc Services) http.Handler {
	contextRegistry := ngsi.NewContextRegistry()
	contextRegistry.Register(fiwarecontext.CreateSource(svc.Hub))

	return createRequestRouter(contextRegistry, svc).impl
}

//CreateRouterAndStartServing creates a request router, registers all handlers and starts serving requests.
//It returns when ctx is done and the server has shut down, or when serving fails.
func CreateRouterAndStartServing(ctx context.Context, port string, svc Services) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("Starting api-accessmap on port %s.", port)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down api-accessmap ...")

	// open event streams only end when their subscriptions are released
	svc.Hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Failed to encode response: %s", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

//writeServiceError maps the error taxonomy onto http status codes
func writeServiceError(w http.ResponseWriter, err error) {
	var signInErr *domain.SignInError

	switch {
	case errors.Is(err, domain.ErrAuthRequired), errors.As(err, &signInErr):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidPin), errors.Is(err, auth.ErrInvalidRegistration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Errorf("Request failed: %s", err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
