package api

import (
	"net/http"
)

func NewRouter(handler *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/contact/", handler.Contact)
	mux.HandleFunc("/v1/invoice/", handler.Invoice)
	mux.HandleFunc("/v1/auth/token", handler.IssueToken)
	mux.HandleFunc("/v1/auth/refresh", handler.RefreshToken)
	mux.HandleFunc("/healthz", handler.Health)

	return chainMiddlewares(mux, withCORS, withRequestID, withLogging)
}
