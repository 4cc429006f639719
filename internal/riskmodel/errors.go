package riskmodel

import "errors"

// 모델 생성 단계 에러 (모두 치명적, 부분 모델은 절대 생성하지 않음)
var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidCovariance = errors.New("invalid factor covariance")
	ErrInvalidVariance   = errors.New("invalid specific variance")
	ErrInvalidExposure   = errors.New("invalid exposure")
	ErrUnknownIdentifier = errors.New("unknown identifier")
)
