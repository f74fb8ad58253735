package controlapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sentinel/internal/archive"
	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/sentinel"
)

// TopicHeader names the broker topic a pushed notice arrived on.
const TopicHeader = "X-Notice-Topic"

// OriginHTTP is the origin of pushed notices without a topic header.
const OriginHTTP = "http"

type ingestRequest struct {
	Target string `json:"target"`
}

func (a *API) handleSubmitNotice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, `{"error":"empty payload"}`, http.StatusBadRequest)
		return
	}

	origin := strings.TrimSpace(r.Header.Get(TopicHeader))
	if origin == "" {
		origin = OriginHTTP
	}

	res, err := a.ctl.Submit(r.Context(), body, origin)
	a.respondSubmit(w, r, res, err)
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		http.Error(w, `{"error":"target is required"}`, http.StatusBadRequest)
		return
	}

	res, err := a.ctl.Ingest(r.Context(), req.Target)
	a.respondSubmit(w, r, res, err)
}

func (a *API) respondSubmit(w http.ResponseWriter, r *http.Request, res *sentinel.SubmitResult, err error) {
	span := trace.SpanFromContext(r.Context())
	if err != nil {
		var pe *notice.ParseError
		switch {
		case errors.Is(err, sentinel.ErrNotRunning):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &pe):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, archive.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			a.logger.Warn(r.Context(), "notice submission rejected", "error", err.Error())
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	span.SetAttributes(
		attribute.String("sentinel.notice_id", res.NoticeID),
		attribute.Bool("sentinel.skipped", res.Skipped),
	)
	status := http.StatusAccepted
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
