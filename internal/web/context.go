package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/sheetquery/internal/core"
	"github.com/JonMunkholm/sheetquery/internal/web/middleware"
)

// withRequestMetadata adds the client IP and User-Agent to the context so
// history events recorded by the service carry them.
func withRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithClient(ctx, middleware.ClientIP(r), r.UserAgent())
}
