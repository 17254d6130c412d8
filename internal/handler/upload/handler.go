package upload

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/evanwzhao/relay/backend/internal/middleware"
	uploadservice "github.com/evanwzhao/relay/backend/internal/service/upload"
	"github.com/evanwzhao/relay/backend/pkg/utils"
)

// maxUploadBytes bounds the multipart form we buffer; the normalizer applies
// its own per-type ceilings later.
const maxUploadBytes = 32 << 20

// Handler accepts attachment uploads and forwards them to the blob store.
type Handler struct {
	uploads *uploadservice.Service
}

// New creates the upload handler.
func New(uploads *uploadservice.Service) *Handler {
	return &Handler{uploads: uploads}
}

// RegisterRoutes wires the upload endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.handleUpload)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.ProfileFrom(r.Context()); !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	result, err := h.uploads.Upload(r.Context(), file, header.Filename)
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}
