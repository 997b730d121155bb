package handlers

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/config"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/database"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/models"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
)

const (
	maxThumbnailWidth   = 2048
	defaultNearDistance = 10
	assetCacheDuration  = 24 * time.Hour
	avatarCacheDuration = 5 * time.Minute
)

// BrowseHandler serves the read side: folders, files, detections and cached images.
type BrowseHandler struct {
	Cfg config.Config
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

type folderListResponse struct {
	Folders []models.Folder `json:"folders"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
}

// ListFolders searches folder rollups by accent-insensitive name and tag, paginated.
func (h *BrowseHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	q := repository.FolderQuery{
		Search:  r.URL.Query().Get("q"),
		Tag:     r.URL.Query().Get("tag"),
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", 0),
	}
	folders, total, err := repository.NewFolderRepository(workspaceFrom(r).DB).List(q)
	if err != nil {
		writeServiceError(w, "list folders", err)
		return
	}
	writeJSON(w, http.StatusOK, folderListResponse{Folders: folders, Total: total, Page: q.Page, PerPage: q.PerPage})
}

type fileEntry struct {
	models.Image
	Pending bool     `json:"pending"`
	Tags    []string `json:"tags"`
}

// ListFiles returns the images directly inside ?folder= ("" is the root), ordered by ?sort=,
// each annotated with its pending flag and detected labels.
func (h *BrowseHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	folder := strings.Trim(r.URL.Query().Get("folder"), "/")
	images, err := repository.NewImageRepository(ws.DB).ListByFolder(folder, r.URL.Query().Get("sort"))
	if err != nil {
		writeServiceError(w, "list files", err)
		return
	}
	labels, err := repository.NewDetectionRepository(ws.DB).LabelsByFolder(folder)
	if err != nil {
		writeServiceError(w, "list file tags", err)
		return
	}

	files := make([]fileEntry, len(images))
	for i, img := range images {
		tags := labels[img.RelPath]
		if tags == nil {
			tags = []string{}
		}
		files[i] = fileEntry{
			Image:   img,
			Pending: img.DetectionStatus == database.StatusPending || img.DetectionStatus == database.StatusProcessing,
			Tags:    tags,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folder": folder, "files": files})
}

// ListDetections returns an image row with every detection recorded for it.
func (h *BrowseHandler) ListDetections(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	rel := r.URL.Query().Get("path")
	img, err := repository.NewImageRepository(ws.DB).GetByPath(rel)
	if err != nil {
		writeServiceError(w, "get image", err)
		return
	}
	dets, err := repository.NewDetectionRepository(ws.DB).ListByImage(rel)
	if err != nil {
		writeServiceError(w, "list detections", err)
		return
	}
	img.Detections = dets
	writeJSON(w, http.StatusOK, img)
}

// NearDuplicates lists visually similar images by perceptual hash distance.
func (h *BrowseHandler) NearDuplicates(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	dist := queryInt(r, "distance", defaultNearDistance)
	similar, err := repository.NewImageRepository(workspaceFrom(r).DB).NearDuplicates(rel, dist)
	if err != nil {
		writeServiceError(w, "near duplicates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": rel, "similar": similar})
}

// Thumbnail renders (or reuses) a cached thumbnail for ?path= at ?w=.
func (h *BrowseHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	img, err := repository.NewImageRepository(ws.DB).GetByPath(r.URL.Query().Get("path"))
	if err != nil {
		writeServiceError(w, "thumbnail lookup", err)
		return
	}

	width := queryInt(r, "w", h.Cfg.ThumbnailWidth)
	if width <= 0 || width > maxThumbnailWidth {
		width = h.Cfg.ThumbnailWidth
	}
	thumb, err := ws.Cache.Thumbnail(img.AbsPath, width)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			WriteAPIError(w, http.StatusNotFound, "not_found", "image file is missing")
			return
		}
		writeServiceError(w, "thumbnail", err)
		return
	}
	serveCached(w, r, thumb, assetCacheDuration)
}

// Avatar serves the folder's representative crop.
func (h *BrowseHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	folder := strings.Trim(r.URL.Query().Get("folder"), "/")
	f, err := repository.NewFolderRepository(workspaceFrom(r).DB).Get(folder)
	if err != nil {
		writeServiceError(w, "avatar lookup", err)
		return
	}
	if f.AvatarPath == nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "folder has no avatar")
		return
	}
	serveCached(w, r, *f.AvatarPath, avatarCacheDuration)
}

func serveCached(w http.ResponseWriter, r *http.Request, path string, d time.Duration) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		log.Printf("handlers: error stating %s: %v", path, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(d.Seconds())))
	w.Header().Set("Expires", time.Now().Add(d).Format(http.TimeFormat))
	http.ServeFile(w, r, path)
}
