package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/classify"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/config"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/ingest"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/source"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

const maxUploadFileBytes = 64 << 20

// PipelineHandler exposes the step operations: ingest, upload, process, reset, reindex.
type PipelineHandler struct {
	Cfg        config.Config
	Converter  ingest.Converter
	Compressor *media.Compressor
	Warmer     ingest.Warmer
	Detector   classify.Detector
}

func (h *PipelineHandler) pipeline(ws *workspace.Workspace) *ingest.Pipeline {
	return ingest.NewPipeline(ws, h.Converter, h.Compressor, h.Warmer)
}

func (h *PipelineHandler) processor(ws *workspace.Workspace) *classify.Processor {
	return classify.NewProcessor(ws, h.Detector, h.Cfg.ProcessingLease)
}

type ingestNextRequest struct {
	Table string `json:"table"`
	Limit int    `json:"limit"`
}

// ListTables shows the source tables the crawler would read and how far each got.
func (h *PipelineHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	tables, err := source.NewCrawler(ws, h.pipeline(ws)).DiscoverTables(r.Context(), r.URL.Query().Get("pattern"))
	if err != nil {
		writeServiceError(w, "discover tables", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

// IngestNext crawls one batch of source rows.
func (h *PipelineHandler) IngestNext(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	var req ingestNextRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
			return
		}
	}

	res, err := source.NewCrawler(ws, h.pipeline(ws)).IngestNext(r.Context(), strings.TrimSpace(req.Table), req.Limit)
	if errors.Is(err, source.ErrSourceExhausted) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"has_more": false, "rows": 0})
		return
	}
	if err != nil {
		writeServiceError(w, "ingest next", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Upload ingests a multipart batch. Each "files" part takes the next queued "paths" (or
// "relative_path") value as its relative path, falling back to the part's file name.
func (h *PipelineHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	reader, err := r.MultipartReader()
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_multipart", "Invalid multipart form: "+err.Error())
		return
	}

	var (
		pathQueue []string
		uploads   []ingest.Upload
	)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("handlers: upload: error reading part: %v", err)
			WriteAPIError(w, http.StatusBadRequest, "invalid_multipart", "Malformed upload data")
			return
		}

		switch part.FormName() {
		case "paths", "paths[]", "relative_path":
			data, _ := io.ReadAll(io.LimitReader(part, 4096))
			pathQueue = append(pathQueue, strings.TrimSpace(string(data)))
		case "files", "files[]":
			rel := part.FileName()
			if len(pathQueue) > 0 {
				if pathQueue[0] != "" {
					rel = pathQueue[0]
				}
				pathQueue = pathQueue[1:]
			}
			data, err := io.ReadAll(io.LimitReader(part, maxUploadFileBytes+1))
			if err != nil {
				WriteAPIError(w, http.StatusBadRequest, "invalid_multipart", "Failed to read "+rel)
				return
			}
			if len(data) > maxUploadFileBytes {
				WriteAPIError(w, http.StatusRequestEntityTooLarge, "file_too_large", rel+" exceeds the upload limit")
				return
			}
			uploads = append(uploads, ingest.Upload{Path: rel, Data: data})
		}
		part.Close()
	}

	if len(uploads) == 0 {
		WriteAPIError(w, http.StatusBadRequest, "no_files", "No files in upload")
		return
	}

	summary, err := h.pipeline(ws).IngestUploads(r.Context(), uploads)
	if err != nil {
		writeServiceError(w, "upload", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *PipelineHandler) ProcessNext(w http.ResponseWriter, r *http.Request) {
	res, err := h.processor(workspaceFrom(r)).ProcessNext(r.Context())
	if err != nil {
		writeServiceError(w, "process next", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *PipelineHandler) Reset(w http.ResponseWriter, r *http.Request) {
	report, err := h.processor(workspaceFrom(r)).Reset(r.Context())
	if err != nil {
		writeServiceError(w, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *PipelineHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	report, err := h.pipeline(workspaceFrom(r)).Reindex(r.Context())
	if err != nil {
		writeServiceError(w, "reindex", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *PipelineHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_path", "path is required")
		return
	}
	if err := h.pipeline(workspaceFrom(r)).DeleteImage(r.Context(), rel); err != nil {
		writeServiceError(w, "delete image", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PipelineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := repository.NewImageRepository(workspaceFrom(r).DB).Stats()
	if err != nil {
		writeServiceError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
