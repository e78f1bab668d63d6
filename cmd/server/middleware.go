// Package main is the entry point of the application
package main

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/repository"
)

type contextKey string

const userContextKey contextKey = "user"

// authenticate verifies the identity token before the websocket upgrade and
// stores the resolved user record in the request context. Tokens are taken
// from the Authorization header or, for browser clients that cannot set
// headers on websocket requests, the token query parameter.
func (app *application) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			header := r.Header.Get("Authorization")
			token = strings.TrimPrefix(header, "Bearer ")
		}

		userID, err := app.Auth.Verify(token)
		if err != nil {
			app.Logger.Warn(
				"Authentication failed",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		user, err := app.Users.GetUser(r.Context(), userID)
		if err != nil || user == nil {
			app.Logger.Warn(
				"Authenticated user not found",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			http.Error(w, "Unauthorized: unknown user", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (*repository.User, bool) {
	user, ok := ctx.Value(userContextKey).(*repository.User)
	return user, ok
}
