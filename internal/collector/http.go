package collector

import (
	"io"
	"net/http"
	"net/url"
)

const maxBodySize = 1 << 20

// HTTPHandler serves the collector routes plus /offer (when a gateway is
// given), /health and /metrics.
func HTTPHandler(svc *Service, gw *Gateway, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	if gw != nil {
		mux.HandleFunc("/offer", gw.ServeOffer)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		rep := svc.Handle(r.Context(), Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Body:   body,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.Code)
		_, _ = w.Write(rep.Body)
	})
	return mux
}

func parseQuery(raw string) (url.Values, error) {
	if raw == "" {
		return url.Values{}, nil
	}
	return url.ParseQuery(raw)
}
