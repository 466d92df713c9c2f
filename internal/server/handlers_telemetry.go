package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/payload"
	"github.com/ashita-ai/kiroku/internal/service/ingest"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

const msgMalformed = "Invalid telemetry data: expected JSON object"

// HandleTelemetry handles POST /telemetry. The response is sent as soon as
// the event is handed to the ingest pipeline; the write itself is not
// awaited.
func (h *Handlers) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, model.IngestError{
				Status:  model.StatusError,
				Message: "Payload too large",
			})
			return
		}
		h.reject(w, http.StatusBadRequest, model.IngestError{Status: model.StatusError, Message: msgMalformed})
		return
	}

	raw, err := payload.Decode(body)
	if err != nil {
		h.reject(w, http.StatusBadRequest, model.IngestError{Status: model.StatusError, Message: msgMalformed})
		return
	}

	if err := payload.Validate(raw); err != nil {
		var verr *payload.ValidationError
		if errors.As(err, &verr) {
			h.reject(w, http.StatusBadRequest, model.IngestError{
				Status:  model.StatusError,
				Message: "Validation failed",
				Errors:  verr.Errors,
			})
			return
		}
		h.reject(w, http.StatusBadRequest, model.IngestError{Status: model.StatusError, Message: msgMalformed})
		return
	}

	in, err := payload.Normalize(raw)
	if err != nil {
		h.reject(w, http.StatusBadRequest, model.IngestError{Status: model.StatusError, Message: msgMalformed})
		return
	}

	receivedAt := time.Now().UTC()
	if err := h.pipeline.Submit(in, receivedAt); err != nil {
		if !errors.Is(err, ingest.ErrSaturated) && !errors.Is(err, ingest.ErrClosed) {
			h.logger.Error("ingest: submit failed", "error", err,
				"request_id", RequestIDFromContext(r.Context()))
		}
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, model.IngestError{
			Status:  model.StatusError,
			Message: "Ingestion queue is full",
		})
		return
	}

	writeJSON(w, http.StatusOK, model.IngestResponse{Status: model.StatusOK, ReceivedAt: receivedAt})
}

func (h *Handlers) reject(w http.ResponseWriter, status int, body model.IngestError) {
	telemetry.IngestEventsTotal.WithLabelValues(telemetry.IngestRejected).Inc()
	writeJSON(w, status, body)
}
