package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/engine"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
	"github.com/blaahhrrgg/equity-risk-model/internal/portfolio"
	"github.com/blaahhrrgg/equity-risk-model/internal/risk"
	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
	"github.com/blaahhrrgg/equity-risk-model/internal/tearsheet"
)

// maxBodyBytes 요청 본문 상한 (정책 + 포트폴리오 수천 종목)
const maxBodyBytes = 8 << 20

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, contracts.ErrorResponse{Error: message, Code: code})
}

// decodeJSON 본문 크기 제한 + 알 수 없는 필드 거부
func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrInvalidInput, err)
	}
	return nil
}

// errorStatus sentinel → HTTP 상태 + 오류 코드
func errorStatus(err error) (int, string) {
	var ve policy.ValidationError
	switch {
	case errors.Is(err, constraints.ErrConflictingConstraints):
		return http.StatusUnprocessableEntity, "conflicting_constraints"
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid_policy"
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, optimizer.ErrInvalidRequest),
		errors.Is(err, risk.ErrInvalidConfig),
		errors.Is(err, risk.ErrUnknownMeasure),
		errors.Is(err, tearsheet.ErrUnknownKind),
		errors.Is(err, riskmodel.ErrDimensionMismatch):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, riskmodel.ErrUnknownIdentifier):
		return http.StatusBadRequest, "unknown_identifier"
	case errors.Is(err, optimizer.ErrInfeasible):
		return http.StatusUnprocessableEntity, "infeasible"
	case errors.Is(err, optimizer.ErrUnbounded):
		return http.StatusUnprocessableEntity, "unbounded"
	case errors.Is(err, optimizer.ErrConstraintViolation):
		return http.StatusInternalServerError, "constraint_violation"
	case errors.Is(err, optimizer.ErrNumericalFailure),
		errors.Is(err, risk.ErrNumericalError):
		return http.StatusInternalServerError, "numerical_failure"
	case errors.Is(err, portfolio.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
