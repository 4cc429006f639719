package riskmodel

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// IsPositiveSemidefinite 고유값 기반 PSD 판정
// 최소 고유값이 -tol 이상이면 true. 분해 실패 시 (false, NaN).
func IsPositiveSemidefinite(a mat.Symmetric, tol float64) (bool, float64) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, false); !ok {
		return false, math.NaN()
	}

	minEig := math.Inf(1)
	for _, v := range eig.Values(nil) {
		if v < minEig {
			minEig = v
		}
	}

	return minEig >= -tol, minEig
}

// isSymmetric 원시 입력의 대칭성 검사 (절대 허용오차)
func isSymmetric(rows [][]float64, tol float64) (bool, int, int) {
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			if math.Abs(rows[i][j]-rows[j][i]) > tol {
				return false, i, j
			}
		}
	}
	return true, -1, -1
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
