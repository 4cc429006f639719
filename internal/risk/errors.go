package risk

import "errors"

var (
	// ErrNumericalError 분산이 허용오차를 넘어 음수 (입력 조건수 불량)
	ErrNumericalError = errors.New("numerical error")
	// ErrUnknownMeasure 등록되지 않은 집중도 지표
	ErrUnknownMeasure = errors.New("unknown concentration measure")
	// ErrInvalidConfig 시뮬레이션/VaR 설정 오류
	ErrInvalidConfig = errors.New("invalid configuration")
)
