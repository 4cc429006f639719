package optimizer

import (
	"errors"

	"github.com/blaahhrrgg/equity-risk-model/internal/constraints"
)

var (
	// ErrInfeasible 제약을 동시에 만족하는 포트폴리오가 없음 (재시도 없음)
	ErrInfeasible = errors.New("optimization infeasible")

	// ErrUnbounded 목적함수가 아래로 무한 (재시도 없음)
	ErrUnbounded = errors.New("optimization unbounded")

	// ErrConstraintViolation 솔버 해가 사후 검증을 통과하지 못함
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNumericalFailure ridge 재시도 후에도 솔버 수치 실패
	ErrNumericalFailure = errors.New("numerical failure")

	// ErrInvalidRequest 요청 파라미터 오류 (차원, 음수 목표 분산 등)
	ErrInvalidRequest = errors.New("invalid optimization request")

	// ErrConflictingConstraints 사전 검사에서 실행불가 판정
	ErrConflictingConstraints = constraints.ErrConflictingConstraints
)
