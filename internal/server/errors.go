package server

import (
	"net/http"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// kindStatus maps a CoreError Kind to its HTTP status and API error code.
// The HTTP layer only ever consults this table — it never inspects error
// strings to decide a response.
var kindStatus = map[model.Kind]struct {
	status int
	code   string
}{
	model.KindValidation:      {http.StatusBadRequest, model.ErrCodeInvalidInput},
	model.KindAuthentication:  {http.StatusUnauthorized, model.ErrCodeUnauthorized},
	model.KindAuthorization:   {http.StatusForbidden, model.ErrCodeForbidden},
	model.KindNotFound:        {http.StatusNotFound, model.ErrCodeNotFound},
	model.KindDuplicate:       {http.StatusConflict, model.ErrCodeDuplicate},
	model.KindRateLimit:       {http.StatusTooManyRequests, model.ErrCodeRateLimited},
	model.KindExternalService: {http.StatusBadGateway, model.ErrCodeExternalService},
	model.KindTimeout:         {http.StatusServiceUnavailable, model.ErrCodeTimeout},
	model.KindAIProcessing:    {http.StatusInternalServerError, model.ErrCodeAIProcessing},
	model.KindDatabase:        {http.StatusInternalServerError, model.ErrCodeDatabase},
}

// writeCoreErr writes the HTTP response for err, mapping it through
// model.AsCoreError when possible and falling back to a generic 500
// otherwise. ce.Details (e.g. DuplicateDetail) is always forwarded so a 409
// response carries the blocking bug id and score.
func (h *Handlers) writeCoreErr(w http.ResponseWriter, r *http.Request, err error) {
	ce, ok := model.AsCoreError(err)
	if !ok {
		h.writeInternalError(w, r, "unhandled error", err)
		return
	}

	mapping, known := kindStatus[ce.Kind]
	if !known {
		h.writeInternalError(w, r, "unmapped error kind", err)
		return
	}

	if mapping.status >= 500 {
		h.logger.Error("request failed", "kind", ce.Kind, "error", ce, "request_id", RequestIDFromContext(r.Context()))
	}

	writeErrorDetails(w, r, mapping.status, mapping.code, ce.Message, ce.Details)
}
