package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/Vishalthakur9634/course-chat/internal/database"
	redisc "github.com/Vishalthakur9634/course-chat/internal/redis"
)

func SearchUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeJSON(w, http.StatusOK, []interface{}{})
			return
		}

		users, err := database.SearchUsers(db, query, 20)
		if err != nil {
			slog.Error("failed to search users", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, users)
	}
}

// GetPresence reports whether a user currently holds a live connection on
// any server instance.
func GetPresence(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["id"]
		online := false
		if redisClient != nil {
			var err error
			online, err = redisc.IsOnline(redisClient, userID)
			if err != nil {
				slog.Error("failed to check presence", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"online": online})
	}
}
