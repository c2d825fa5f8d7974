package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/ecommpipeline/internal/models"
	"github.com/Lllllllleong/ecommpipeline/internal/services"
)

var (
	confirmInstance *services.ConfirmFunction
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleConfirmSchema", handleConfirmSchema)
}

func main() {}

// handleConfirmSchema renders a session on GET and applies a remap on POST.
func handleConfirmSchema(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		confirmInstance, initErr = services.NewConfirm(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Confirm initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var (
		res *models.ConfirmResponse
		err error
	)
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		advise := false
		if raw := query.Get("advise"); raw != "" {
			if advise, err = strconv.ParseBool(raw); err != nil {
				http.Error(w, "Bad Request: advise must be a boolean", http.StatusBadRequest)
				return
			}
		}
		res, err = confirmInstance.View(r.Context(), query.Get("sessionId"), advise)
	case http.MethodPost:
		var req models.RemapRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			slog.Warn("Could not decode request body.", "error", decodeErr)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}
		res, err = confirmInstance.Remap(r.Context(), &req)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), services.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response.", "error", err, "sessionId", res.SessionID)
	}
}
