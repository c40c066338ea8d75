// Package api exposes the location pipeline over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/auth"
	"github.com/darkden-lab/argus-tracker/internal/httputil"
	"github.com/darkden-lab/argus-tracker/internal/location"
	"github.com/darkden-lab/argus-tracker/internal/tracking"
)

const maxBodyBytes = 16 << 10

// Publisher queues a location report.
type Publisher interface {
	Publish(ctx context.Context, id tracking.Identity, d tracking.Draft) (tracking.Ack, error)
}

// Locations reads persisted positions and checks event membership.
type Locations interface {
	VerifyMembership(ctx context.Context, userID, eventID int64) (int64, error)
	ListByEvent(ctx context.Context, eventID int64) ([]location.Update, error)
}

// Handlers provides HTTP handlers for the locations API.
type Handlers struct {
	publisher Publisher
	locations Locations
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers.
func NewHandlers(publisher Publisher, locations Locations, logger *zap.Logger) *Handlers {
	return &Handlers{publisher: publisher, locations: locations, logger: logger.Named("api")}
}

// RegisterRoutes wires the location endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events/{eventID}/locations", h.PublishLocation).Methods(http.MethodPost)
	r.HandleFunc("/api/events/{eventID}/locations", h.ListLocations).Methods(http.MethodGet)
}

// coordinate accepts a JSON number or a numeric string and keeps its text.
type coordinate string

func (c *coordinate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = coordinate(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = coordinate(n.String())
	return nil
}

type publishRequest struct {
	Latitude  coordinate          `json:"latitude"`
	Longitude coordinate          `json:"longitude"`
	Telemetry *location.Telemetry `json:"telemetry,omitempty"`
}

type publishResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

// PublishLocation handles POST /api/events/{eventID}/locations
func (h *Handlers) PublishLocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}

	var req publishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ack, err := h.publisher.Publish(r.Context(),
		tracking.Identity{UserID: claims.UserID, Name: claims.Name},
		tracking.Draft{
			EventID:   eventID,
			Latitude:  string(req.Latitude),
			Longitude: string(req.Longitude),
			Telemetry: req.Telemetry,
		})

	switch ack {
	case tracking.AckQueued:
		key := location.Key{EntityID: claims.UserID, EntityType: location.EntityUser, EventID: eventID}
		httputil.WriteJSON(w, http.StatusAccepted, publishResponse{Status: ack.String(), Key: key.String()})
	case tracking.AckInvalid:
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
	case tracking.AckAuthorizationFailed:
		httputil.WriteError(w, http.StatusNotFound, "event not found")
	case tracking.AckBrokerUnavailable:
		h.logger.Error("publish location", zap.Int64("event_id", eventID), zap.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "location queue unavailable")
	default:
		h.logger.Error("publish location", zap.Int64("event_id", eventID), zap.Stringer("ack", ack), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// ListLocations handles GET /api/events/{eventID}/locations
func (h *Handlers) ListLocations(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}

	if _, err := h.locations.VerifyMembership(r.Context(), claims.UserID, eventID); err != nil {
		if errors.Is(err, location.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("verify membership", zap.Int64("event_id", eventID), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updates, err := h.locations.ListByEvent(r.Context(), eventID)
	if err != nil {
		h.logger.Error("list locations", zap.Int64("event_id", eventID), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"locations": updates,
		"total":     len(updates),
	})
}

func eventIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	eventID, err := strconv.ParseInt(mux.Vars(r)["eventID"], 10, 64)
	if err != nil || eventID <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid event id")
		return 0, false
	}
	return eventID, true
}

func validationMessage(err error) string {
	if err == nil {
		return "invalid location"
	}
	return err.Error()
}
