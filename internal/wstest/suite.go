// Package wstest provides shared testify suite scaffolding, adapted from
// the teacher library's pkg/test.
package wstest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

// Suite wraps testify's suite with a per-test context.
type Suite struct {
	suite.Suite
	Ctx context.Context
}

func (s *Suite) SetupTest() {
	s.Ctx = context.Background()
}

// Run starts a suite from a standard Test* function.
func Run(t *testing.T, s suite.TestingSuite) {
	suite.Run(t, s)
}
