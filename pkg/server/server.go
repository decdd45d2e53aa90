package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/handlers"
)

func NewRouter(handler *handlers.Handler, metricsHandler http.Handler, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Contact state
	router.HandleFunc("/contacts", handler.RegisterContact).Methods("POST")
	router.HandleFunc("/contacts/{id}", handler.GetContact).Methods("GET")
	router.HandleFunc("/contacts/{id}/eligibility", handler.Eligibility).Methods("GET")
	router.HandleFunc("/contacts/{id}/outreach", handler.Outreach).Methods("POST")
	router.HandleFunc("/contacts/{id}/replies", handler.Reply).Methods("POST")
	router.HandleFunc("/contacts/{id}/seniority", handler.Seniority).Methods("POST")
	router.HandleFunc("/contacts/{id}/override", handler.Override).Methods("POST")
	router.HandleFunc("/contacts/{id}/activity", handler.RecordActivity).Methods("POST")

	router.HandleFunc("/classify", handler.Classify).Methods("POST")
	router.HandleFunc("/escalations", handler.Escalations).Methods("GET")
	router.HandleFunc("/health", handler.Health).Methods("GET")
	router.HandleFunc("/status", handler.Status).Methods("GET")

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Handle("/metrics", metricsHandler).Methods("GET")

	router.Use(loggingMiddleware(logger))

	return router
}

func NewHTTPServer(config *config.Config, router http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + config.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}
