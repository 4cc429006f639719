package constraints

import (
	"errors"

	"github.com/blaahhrrgg/equity-risk-model/internal/riskmodel"
)

var (
	// ErrConflictingConstraints 사전 검사에서 실행 가능 영역이 비어 있음이 확인됨
	ErrConflictingConstraints = errors.New("conflicting constraints")
	// ErrUnknownIdentifier 모델에 없는 팩터/종목 식별자 (riskmodel 과 동일 sentinel)
	ErrUnknownIdentifier = riskmodel.ErrUnknownIdentifier
)
