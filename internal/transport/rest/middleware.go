package rest

import (
	"net/http"
	"strings"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	appCtx "github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/context"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/transport/rest/response"
	"github.com/google/uuid"
)

// ViewerHeader carries the viewer id; the gateway authenticates and sets it.
const ViewerHeader = "X-User-ID"

func ViewerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ViewerHeader))
		if raw == "" {
			response.Fail(w, http.StatusUnauthorized, "unauthenticated", "missing "+ViewerHeader, nil, appCtx.GetRequestID(r.Context()))
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(w, http.StatusBadRequest, string(domain.CodeValidation), "invalid "+ViewerHeader,
				map[string]string{"header": ViewerHeader}, appCtx.GetRequestID(r.Context()))
			return
		}
		ctx := appCtx.WithViewerID(r.Context(), id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
		next.ServeHTTP(w, r)
	})
}
