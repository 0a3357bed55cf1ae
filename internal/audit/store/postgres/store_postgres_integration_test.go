//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"biogate/internal/audit"
	"biogate/internal/audit/store/postgres"
	"biogate/pkg/domain"
	"biogate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(s.pg.ApplySchema(context.Background(), postgres.Schema))
	s.store = postgres.New(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "audit_records"))
}

func (s *PostgresStoreSuite) appendEvents(chain *audit.Chain, n int) {
	ctx := context.Background()
	id := domain.NewIdentityID()
	for i := 0; i < n; i++ {
		_, err := chain.Append(ctx, audit.Event{
			Type:       audit.EventVerify,
			IdentityID: id,
			Timestamp:  time.Now().UTC(),
			Decision:   "reject",
			Reason:     domain.ReasonBelowThreshold,
		})
		s.Require().NoError(err)
	}
}

func (s *PostgresStoreSuite) TestLastOnEmptyReturnsNil() {
	rec, err := s.store.Last(context.Background())
	s.Require().NoError(err)
	s.Nil(rec)
}

// TestChainSurvivesRestart appends through one chain, then opens a second
// chain on the same store and confirms the sequence continues and the whole
// chain still verifies.
func (s *PostgresStoreSuite) TestChainSurvivesRestart() {
	ctx := context.Background()

	chain, err := audit.NewChain(ctx, s.store)
	s.Require().NoError(err)
	s.appendEvents(chain, 3)

	resumed, err := audit.NewChain(ctx, s.store)
	s.Require().NoError(err)
	s.Equal(uint64(3), resumed.Head())
	s.appendEvents(resumed, 2)

	ok, firstBad, err := resumed.VerifyChain(ctx, 0, 0)
	s.Require().NoError(err)
	s.True(ok, "first bad seq: %d", firstBad)
	s.Equal(uint64(5), resumed.Head())
}

func (s *PostgresStoreSuite) TestDuplicateSeqRejected() {
	ctx := context.Background()
	rec := &audit.Record{
		Seq:        1,
		Type:       audit.EventEnroll,
		IdentityID: domain.NewIdentityID(),
		Payload:    []byte(`{}`),
		Digest:     make([]byte, 32),
		LinkHash:   make([]byte, 32),
		Timestamp:  time.Now().UTC(),
	}
	s.Require().NoError(s.store.Append(ctx, rec))
	s.Error(s.store.Append(ctx, rec), "the primary key forbids forked sequences")
}

// TestTamperDetectedOnStoredRows flips one stored payload directly in SQL
// and confirms verification pins the damaged sequence.
func (s *PostgresStoreSuite) TestTamperDetectedOnStoredRows() {
	ctx := context.Background()

	chain, err := audit.NewChain(ctx, s.store)
	s.Require().NoError(err)
	s.appendEvents(chain, 4)

	_, err = s.pg.DB.ExecContext(ctx,
		`UPDATE audit_records SET payload = $1 WHERE seq = 2`, []byte(`{"forged":true}`))
	s.Require().NoError(err)

	ok, firstBad, err := chain.VerifyChain(ctx, 0, 0)
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(uint64(2), firstBad)
	s.True(chain.Halted())
}
