package workers

import (
	"log"
	"os"
	"sync"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/media"
)

// ThumbnailJob asks for one thumbnail of OriginalImagePath to be rendered into Cache.
type ThumbnailJob struct {
	Cache             *media.Cache
	OriginalImagePath string
	Width             int
}

// ThumbnailWarmer renders default-width thumbnails in the background after ingestion.
// Nothing depends on it having run: the thumbnail endpoint renders on demand too.
type ThumbnailWarmer struct {
	JobQueue chan ThumbnailJob
	Width    int
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex

	stopOnce sync.Once
}

func NewThumbnailWarmer(width, queueSize, numWorkers int) *ThumbnailWarmer {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	w := &ThumbnailWarmer{
		JobQueue: make(chan ThumbnailJob, queueSize),
		Width:    width,
		StopChan: make(chan struct{}),
		Pending:  make(map[string]bool),
	}

	w.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go w.worker(i)
	}
	log.Printf("workers: started %d thumbnail worker(s) with queue size %d", numWorkers, queueSize)

	return w
}

func (w *ThumbnailWarmer) worker(id int) {
	defer w.Wg.Done()
	for {
		select {
		case job, ok := <-w.JobQueue:
			if !ok {
				return
			}
			w.processJob(job)
			w.Mutex.Lock()
			delete(w.Pending, job.OriginalImagePath)
			w.Mutex.Unlock()

		case <-w.StopChan:
			log.Printf("workers: thumbnail worker %d stopping", id)
			return
		}
	}
}

func (w *ThumbnailWarmer) processJob(job ThumbnailJob) {
	if _, err := os.Stat(job.OriginalImagePath); os.IsNotExist(err) {
		log.Printf("workers: %s is gone, skipping thumbnail", job.OriginalImagePath)
		return
	}

	if _, err := job.Cache.Thumbnail(job.OriginalImagePath, job.Width); err != nil {
		log.Printf("workers: thumbnail for %s failed: %v", job.OriginalImagePath, err)
	}
}

// QueueJob enqueues job unless the same file is already waiting. It never blocks: a full
// queue drops the job.
func (w *ThumbnailWarmer) QueueJob(job ThumbnailJob) bool {
	if job.Width <= 0 {
		job.Width = w.Width
	}

	w.Mutex.Lock()
	if w.Pending[job.OriginalImagePath] {
		w.Mutex.Unlock()
		return false
	}
	w.Pending[job.OriginalImagePath] = true
	w.Mutex.Unlock()

	select {
	case w.JobQueue <- job:
		return true
	default:
		log.Printf("workers: thumbnail queue full, dropping %s", job.OriginalImagePath)
		w.Mutex.Lock()
		delete(w.Pending, job.OriginalImagePath)
		w.Mutex.Unlock()
		return false
	}
}

// Warm queues the default thumbnail of a freshly stored file.
func (w *ThumbnailWarmer) Warm(cache *media.Cache, absPath string) bool {
	return w.QueueJob(ThumbnailJob{Cache: cache, OriginalImagePath: absPath, Width: w.Width})
}

func (w *ThumbnailWarmer) Stop() {
	w.stopOnce.Do(func() {
		close(w.StopChan)
		w.Wg.Wait()
		log.Println("workers: all thumbnail workers stopped")
	})
}
