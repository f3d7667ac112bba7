package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(ctx appContext, reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	r.Use(requestLogger(ctx.logger), addCorsHeaders)
	r.Handle("/health", appHandler{ctx, handleHealth}).Methods("GET", "OPTIONS")
	r.Handle("/queue", appHandler{ctx, handleQueue}).Methods("GET", "OPTIONS")
	r.Handle("/classify-age", appHandler{ctx, handleClassifyAge}).Methods("POST", "OPTIONS")
	r.Handle("/models/qwen-vl", appHandler{ctx, handleQwenVL}).Methods("POST", "OPTIONS")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorRes{Detail: "method not allowed"})
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorRes{Detail: "not found"})
	})

	return r
}
