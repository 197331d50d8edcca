package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/bugdedup/internal/detector"
	"github.com/ashita-ai/bugdedup/internal/model"
	"github.com/ashita-ai/bugdedup/internal/storage"
)

// promoteRequest is the body of POST /api/qa/bugs/{id}/promote.
type promoteRequest struct {
	User   string `json:"user"`
	Reason string `json:"reason"`
}

// HandlePromoteBug handles POST /api/qa/bugs/{id}/promote: a QA reviewer
// overturns a soft duplicate flag, clearing duplicate_of/classification/
// similarity_score so the bug stands on its own, per §4.5's Promote note.
func (h *Handlers) HandlePromoteBug(w http.ResponseWriter, r *http.Request) {
	id, err := parseBugID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req promoteRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.User == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user is required")
		return
	}

	bug, err := h.db.GetBug(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "bug not found")
		return
	}
	if !bug.IsDuplicate {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "bug is not marked as a duplicate")
		return
	}

	clearedStatus := model.Classification("")
	err = h.db.WithTx(r.Context(), func(tx pgx.Tx) error {
		if err := storage.ApplyQAOverride(r.Context(), tx, id, nil, &clearedStatus, nil, true, nil, nil); err != nil {
			return err
		}
		audit := &model.AuditLog{
			EventType: model.AuditBugPromoted,
			BugID:     &id,
			Actor:     req.User,
			Reasoning: req.Reason,
			PreviousState: map[string]any{
				"duplicate_of":     bug.DuplicateOf,
				"classification":   bug.Classification,
				"similarity_score": bug.SimilarityScore,
			},
		}
		return storage.InsertAudit(r.Context(), tx, audit)
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to promote bug", err)
		return
	}

	updated, err := h.db.GetBug(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to reload promoted bug", err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// reclassifyRequest is the body of POST /api/qa/bugs/{id}/reclassify.
type reclassifyRequest struct {
	User           string               `json:"user"`
	ParentID       *uuid.UUID           `json:"parent_id,omitempty"`
	Classification model.Classification `json:"classification,omitempty"`
	Reason         string               `json:"reason"`
}

// HandleReclassifyBug handles POST /api/qa/bugs/{id}/reclassify: a QA
// reviewer re-points a bug's duplicate-of relationship or classification.
// Cyclic duplicate-of chains are rejected by walking the target's existing
// chain (§9's cyclic duplicate-of risk).
func (h *Handlers) HandleReclassifyBug(w http.ResponseWriter, r *http.Request) {
	id, err := parseBugID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req reclassifyRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.User == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user is required")
		return
	}

	if req.ParentID != nil {
		if err := model.ValidateReclassifyTarget(id, *req.ParentID); err != nil {
			h.writeCoreErr(w, r, err)
			return
		}
	}

	bug, err := h.db.GetBug(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "bug not found")
		return
	}

	if req.ParentID != nil {
		if _, err := h.db.GetBug(r.Context(), *req.ParentID); err != nil {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "parent_id does not exist")
			return
		}
		chain, err := h.db.WalkDuplicateChain(r.Context(), *req.ParentID)
		if err != nil {
			h.writeInternalError(w, r, "failed to walk duplicate chain", err)
			return
		}
		if chain[id] {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "parent_id would introduce a cyclic duplicate-of chain")
			return
		}
	}

	classification := req.Classification
	if classification == "" && req.ParentID != nil {
		classification = model.ClassificationDuplicate
	}

	err = h.db.WithTx(r.Context(), func(tx pgx.Tx) error {
		if err := storage.ApplyQAOverride(r.Context(), tx, id, nil, &classification, req.ParentID, false, nil, nil); err != nil {
			return err
		}
		audit := &model.AuditLog{
			EventType: model.AuditClassificationChanged,
			BugID:     &id,
			ParentID:  req.ParentID,
			Actor:     req.User,
			Reasoning: req.Reason,
			PreviousState: map[string]any{
				"duplicate_of":   bug.DuplicateOf,
				"classification": bug.Classification,
			},
			NewState: map[string]any{
				"duplicate_of":   req.ParentID,
				"classification": classification,
			},
		}
		return storage.InsertAudit(r.Context(), tx, audit)
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to reclassify bug", err)
		return
	}

	updated, err := h.db.GetBug(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to reload reclassified bug", err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleListLowQuality handles GET /api/qa/low-quality.
func (h *Handlers) HandleListLowQuality(w http.ResponseWriter, r *http.Request) {
	status := model.LowQualityStatus(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", model.DefaultSearchLimit)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > model.MaxSearchLimit {
		limit = model.DefaultSearchLimit
	}

	entries, err := h.db.ListLowQuality(r.Context(), status, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list low quality queue", err)
		return
	}

	writeList(w, r, entries, limit, offset, len(entries) == limit)
}

// HandleGetLowQuality handles GET /api/qa/low-quality/{id}.
func (h *Handlers) HandleGetLowQuality(w http.ResponseWriter, r *http.Request) {
	id, err := parseBugID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	entry, err := h.db.GetLowQuality(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "low quality queue entry not found")
		return
	}
	writeJSON(w, r, http.StatusOK, entry)
}

// lowQualityReviewRequest is the body of the approve/reject endpoints.
type lowQualityReviewRequest struct {
	User string `json:"user"`
	Note string `json:"note,omitempty"`
}

// HandleApproveLowQuality handles POST /api/qa/low-quality/{id}/approve: the
// raw submission is re-run through the detector (bypassing the quality
// gate, since a human already vouched for it) and linked back to the queue row.
func (h *Handlers) HandleApproveLowQuality(w http.ResponseWriter, r *http.Request) {
	h.reviewLowQuality(w, r, model.LowQualityApproved)
}

// HandleRejectLowQuality handles POST /api/qa/low-quality/{id}/reject.
func (h *Handlers) HandleRejectLowQuality(w http.ResponseWriter, r *http.Request) {
	h.reviewLowQuality(w, r, model.LowQualityRejected)
}

func (h *Handlers) reviewLowQuality(w http.ResponseWriter, r *http.Request, decision model.LowQualityStatus) {
	id, err := parseBugID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req lowQualityReviewRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.User == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user is required")
		return
	}

	entry, err := h.db.GetLowQuality(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "low quality queue entry not found")
		return
	}
	if entry.Status != model.LowQualityPending {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "entry has already been reviewed")
		return
	}

	var createdBugID *uuid.UUID
	var outcome *detector.Outcome
	if decision == model.LowQualityApproved {
		// Approval means a human vouches for the submission despite it
		// failing the automated quality gate; route it straight to the
		// detector's duplicate-detection path rather than the quality gate.
		o, err := h.detector.ProcessApproved(r.Context(), entry.RawSubmission)
		if err != nil {
			h.writeCoreErr(w, r, err)
			return
		}
		outcome = &o
		if o.Bug != nil {
			createdBugID = &o.Bug.ID
		}
	}

	err = h.db.WithTx(r.Context(), func(tx pgx.Tx) error {
		if err := storage.ReviewLowQuality(r.Context(), tx, id, decision, req.User, req.Note, createdBugID); err != nil {
			return err
		}
		if decision == model.LowQualityApproved {
			audit := &model.AuditLog{
				EventType: model.AuditQAOverride,
				BugID:     createdBugID,
				Actor:     req.User,
				Reasoning: req.Note,
				PreviousState: map[string]any{
					"low_quality_id": id,
					"quality_issues": entry.QualityIssues,
				},
			}
			if outcome != nil {
				audit.NewState = map[string]any{"outcome": outcome.Kind}
			}
			if err := storage.InsertAudit(r.Context(), tx, audit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to record low quality review", err)
		return
	}

	updated, err := h.db.GetLowQuality(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "failed to reload low quality entry", err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}
