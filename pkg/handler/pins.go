package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/auth"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/pinstore"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/marker"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/views"
)

//Event names used on the pin stream
const (
	EventSnapshot  = "snapshot"
	EventHeartbeat = "heartbeat"
)

var heartbeatInterval = 30 * time.Second

//pinQuery reads the author filter. Only the caller's own pins can be selected.
func pinQuery(r *http.Request) (domain.PinQuery, error) {
	switch author := r.URL.Query().Get("author"); author {
	case "":
		return domain.PinQuery{}, nil
	case "me":
		identity := auth.IdentityFromContext(r.Context())
		if identity == nil {
			return domain.PinQuery{}, domain.ErrAuthRequired
		}
		return domain.PinQuery{AuthorID: identity.ID}, nil
	default:
		return domain.PinQuery{}, fmt.Errorf("%w: author must be \"me\"", domain.ErrInvalidPin)
	}
}

func newCatalogHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Catalog().Categories())
	}
}

func newMarkersHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, marker.NewLegend(hub.Catalog()))
	}
}

//newMapHandler serves the map settings with the hub's delete policy
func newMapHandler(settings domain.MapSettings, hub *pinstore.Hub) http.HandlerFunc {
	settings.DeletePolicy = hub.Policy()

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, settings)
	}
}

func newTutorialHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, views.Tutorial(hub.Catalog()))
	}
}

func newListPinsHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := pinQuery(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		pins, err := hub.Snapshot(r.Context(), query)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if pins == nil {
			pins = []domain.Pin{}
		}

		writeJSON(w, http.StatusOK, pins)
	}
}

func newCreatePinHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draft := domain.NewPin{}
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		pin, err := hub.Create(r.Context(), auth.IdentityFromContext(r.Context()), draft)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Location", "/api/pins/"+pin.ID)
		writeJSON(w, http.StatusCreated, pin)
	}
}

func newDeletePinHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := hub.Delete(r.Context(), auth.IdentityFromContext(r.Context()), id); err != nil {
			writeServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

//newStreamPinsHandler serves a live subscription as server sent events. Every event carries the
//whole snapshot, the subscription is released when the client goes away.
func newStreamPinsHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := pinQuery(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		sub, err := hub.Subscribe(r.Context(), query)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		var seq uint64

		for {
			select {
			case <-r.Context().Done():
				return
			case pins, ok := <-sub.Snapshots():
				if !ok {
					return
				}
				seq++
				if err := sendEvent(w, flusher, seq, EventSnapshot, pins); err != nil {
					log.Debugf("Client disconnected during snapshot: %s", err.Error())
					return
				}
			case t := <-heartbeat.C:
				if err := sendEvent(w, flusher, 0, EventHeartbeat, map[string]string{"time": t.UTC().Format(time.RFC3339)}); err != nil {
					log.Debugf("Client disconnected during heartbeat: %s", err.Error())
					return
				}
			}
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, id uint64, eventType string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err = fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}

	if id > 0 {
		if _, err = fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}

	if _, err = fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return err
	}

	flusher.Flush()
	return nil
}

func newHealthHandler(hub *pinstore.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"subscriptions": hub.SubscriptionCount(),
		})
	}
}
