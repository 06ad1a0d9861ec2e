package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"server/internal/checkpoint"
	"server/internal/domain"
	"server/pkg/zip"
)

// SessionStatus reports which checkpoint steps a session has completed, so a
// client can decide whether a retry will resume partway through.
func (a *App) SessionStatus(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session_id")
	steps := a.Cache.Status(session)
	done := 0
	for _, ok := range steps {
		if ok {
			done++
		}
	}
	a.json(w, http.StatusOK, map[string]any{
		"session_id": session,
		"steps":      steps,
		"completed":  done,
		"total":      len(checkpoint.StepKeys),
	})
}

// SessionArchive bundles every checkpointed image for a session into a zip
// download. 404 when the session has no images yet.
func (a *App) SessionArchive(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session_id")
	var assets []zip.Asset
	for _, key := range checkpoint.StepKeys {
		if !strings.HasPrefix(key, "img_") {
			continue
		}
		var img domain.GeneratedImage
		if !a.Cache.Get(session, key, &img) {
			continue
		}
		data, mime, err := decodeDataURI(img.Data)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", key).Msg("skipping undecodable archive image")
			continue
		}
		if mime == "" {
			mime = img.MimeType
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("%s_%s", img.StyleID, img.Kind),
			MIME:     mime,
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no images cached for this session")
		return
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "archive_failed", "could not build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session+"_images.zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func decodeDataURI(ref string) ([]byte, string, error) {
	if !strings.HasPrefix(ref, "data:") {
		data, err := base64.StdEncoding.DecodeString(ref)
		return data, "", err
	}
	meta, encoded, ok := strings.Cut(ref, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data uri")
	}
	mime := strings.TrimPrefix(meta, "data:")
	mime, _, _ = strings.Cut(mime, ";")
	data, err := base64.StdEncoding.DecodeString(encoded)
	return data, mime, err
}
