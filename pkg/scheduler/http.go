package scheduler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HTTPEntry provides the mountpoint for this scheduler into the shared
// webserver routing tree.
func (s *Scheduler) HTTPEntry() chi.Router {
	r := chi.NewRouter()
	r.Get("/queue", s.httpQueue)
	return r
}

func (s *Scheduler) httpQueue(w http.ResponseWriter, r *http.Request) {
	s.queueMutex.Lock()
	queue := append([]ChrootJob(nil), s.queue...)
	s.queueMutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(queue)
}
