package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/ecommpipeline/internal/services"
)

// maxUploadBytes bounds the spreadsheet accepted in one request.
const maxUploadBytes = 32 << 20

var (
	uploadInstance *services.UploadFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleUploadSchema", handleUploadSchema)
}

func main() {}

// handleUploadSchema accepts a multipart form with the spreadsheet in field
// "file", the integration display name in "name" and an optional "sessionId".
func handleUploadSchema(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		uploadInstance, initErr = services.NewUpload(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Upload initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		slog.Warn("Could not parse multipart form.", "error", err)
		http.Error(w, "Bad Request: could not parse multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Bad Request: missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		slog.Warn("Could not read uploaded file.", "error", err, "filename", header.Filename)
		http.Error(w, "Bad Request: could not read file", http.StatusBadRequest)
		return
	}

	req := services.UploadRequest{
		SessionID: r.FormValue("sessionId"),
		Name:      r.FormValue("name"),
		Filename:  header.Filename,
		Data:      data,
	}
	res, err := uploadInstance.Process(r.Context(), &req)
	if err != nil {
		// Error is already logged with context in the Process method.
		http.Error(w, err.Error(), services.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response.", "error", err, "sessionId", res.SessionID)
	}
}
