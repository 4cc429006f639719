package contracts

import "github.com/blaahhrrgg/equity-risk-model/internal/tearsheet"

// TearsheetRequest POST /api/tearsheet
type TearsheetRequest struct {
	Kind       string                        `json:"kind"`
	Portfolios map[string]map[string]float64 `json:"portfolios"`
}

// TearsheetResponse 행 = 지표, 열 = 포트폴리오
// NaN 셀 (0 포트폴리오 등) 은 null
type TearsheetResponse struct {
	Kind          string       `json:"kind"`
	Rows          []string     `json:"rows"`
	Portfolios    []string     `json:"portfolios"`
	Values        [][]*float64 `json:"values"`
	UnknownAssets []string     `json:"unknown_assets,omitempty"`
}

// NewTearsheetResponse Tearsheet → 응답
func NewTearsheetResponse(ts *tearsheet.Tearsheet) TearsheetResponse {
	table := ts.Table()
	values := make([][]*float64, len(table))
	for i, row := range table {
		values[i] = make([]*float64, len(row))
		for j, v := range row {
			values[i][j] = FiniteOrNil(v)
		}
	}
	return TearsheetResponse{
		Kind:       string(ts.Kind),
		Rows:       ts.Rows,
		Portfolios: ts.Portfolios,
		Values:     values,
	}
}

// ErrorResponse 오류 응답
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
