package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaahhrrgg/equity-risk-model/internal/contracts"
	"github.com/blaahhrrgg/equity-risk-model/internal/optimizer"
	"github.com/blaahhrrgg/equity-risk-model/internal/policy"
)

// fakeRunner 정해진 응답/에러 반환
type fakeRunner struct {
	resp  *contracts.OptimizeResponse
	err   error
	calls int
}

func (f *fakeRunner) RunPolicy(_ context.Context, _ *policy.Policy, _ policy.Portfolios, _ []byte) (*contracts.OptimizeResponse, error) {
	f.calls++
	return f.resp, f.err
}

func testPolicy() *policy.Policy {
	return &policy.Policy{Meta: policy.Meta{PolicyID: "nightly"}}
}

func TestPolicyRunJob(t *testing.T) {
	t.Run("metadata", func(t *testing.T) {
		j := NewPolicyRunJob(&fakeRunner{}, testPolicy(), nil, nil, "0 0 18 * * 1-5", nil)
		assert.Equal(t, "policy_run:nightly", j.Name())
		assert.Equal(t, "0 0 18 * * 1-5", j.Schedule())
		assert.Nil(t, j.Last())
	})

	t.Run("optimal", func(t *testing.T) {
		runner := &fakeRunner{resp: &contracts.OptimizeResponse{RunID: "r1", Status: optimizer.StatusOptimal}}
		j := NewPolicyRunJob(runner, testPolicy(), nil, nil, "@daily", nil)

		require.NoError(t, j.Run(context.Background()))
		require.NotNil(t, j.Last())
		assert.Equal(t, "r1", j.Last().RunID)
	})

	t.Run("non-optimal is not retried", func(t *testing.T) {
		runner := &fakeRunner{
			resp: &contracts.OptimizeResponse{RunID: "r2", Status: optimizer.StatusInfeasible},
			err:  optimizer.ErrInfeasible,
		}
		j := NewPolicyRunJob(runner, testPolicy(), nil, nil, "@daily", nil)

		assert.NoError(t, j.Run(context.Background()))
		assert.Equal(t, optimizer.StatusInfeasible, j.Last().Status)
	})

	t.Run("setup failure is returned", func(t *testing.T) {
		boom := errors.New("unknown factor")
		j := NewPolicyRunJob(&fakeRunner{err: boom}, testPolicy(), nil, nil, "@daily", nil)

		assert.ErrorIs(t, j.Run(context.Background()), boom)
		assert.Nil(t, j.Last())
	})

	t.Run("nil result without error", func(t *testing.T) {
		j := NewPolicyRunJob(&fakeRunner{}, testPolicy(), nil, nil, "@daily", nil)
		assert.Error(t, j.Run(context.Background()))
	})
}
