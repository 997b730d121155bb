package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/classify"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/config"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/ingest"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

// Deps is everything the API routes are built from.
type Deps struct {
	Cfg        config.Config
	Manager    *workspace.Manager
	Detector   classify.Detector
	Converter  ingest.Converter
	Compressor *media.Compressor
	Warmer     ingest.Warmer
}

// Mount registers the /api routes on r.
func Mount(r chi.Router, d Deps) {
	wsHandler := NewWorkspaceHandler(d.Manager)
	pipelineHandler := &PipelineHandler{
		Cfg:        d.Cfg,
		Converter:  d.Converter,
		Compressor: d.Compressor,
		Warmer:     d.Warmer,
		Detector:   d.Detector,
	}
	browseHandler := &BrowseHandler{Cfg: d.Cfg}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Detector))

		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", wsHandler.ListWorkspaces)
			r.Post("/", wsHandler.CreateWorkspace)

			r.Route("/{ws}", func(r chi.Router) {
				r.Use(wsHandler.WorkspaceContext)

				r.Delete("/", wsHandler.DeleteWorkspace)
				r.Get("/settings", wsHandler.GetSettings)
				r.Put("/settings", wsHandler.UpdateSettings)

				r.Get("/tables", pipelineHandler.ListTables)
				r.Post("/ingest/next", pipelineHandler.IngestNext)
				r.Post("/upload", pipelineHandler.Upload)
				r.Post("/process/next", pipelineHandler.ProcessNext)
				r.Post("/reset", pipelineHandler.Reset)
				r.Post("/reindex", pipelineHandler.Reindex)
				r.Get("/stats", pipelineHandler.Stats)
				r.Delete("/images", pipelineHandler.DeleteImage)

				r.Get("/folders", browseHandler.ListFolders)
				r.Get("/files", browseHandler.ListFiles)
				r.Get("/detections", browseHandler.ListDetections)
				r.Get("/similar", browseHandler.NearDuplicates)
				r.Get("/thumb", browseHandler.Thumbnail)
				r.Get("/avatar", browseHandler.Avatar)
			})
		})
	})
}

// HealthHandler reports process liveness plus whether the detector answers.
func HealthHandler(detector classify.Detector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok", "detector": "ok"}
		if err := detector.Health(r.Context()); err != nil {
			resp["detector"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
