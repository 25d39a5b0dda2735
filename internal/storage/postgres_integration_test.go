//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/GriffinCanCode/cardscan/internal/card"
	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
	"github.com/GriffinCanCode/cardscan/internal/orchestrator/audit"
)

type PostgresSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	store     *Postgres
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()
	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cardscan_test"),
		postgres.WithUsername("cardscan"),
		postgres.WithPassword("cardscan"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = c

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.store, err = Open(ctx, dsn)
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.store.db.Exec(`TRUNCATE cards, scan_attempts`)
	s.Require().NoError(err)
}

func sampleCard(name, company string, at time.Time) card.Card {
	return card.Card{
		Name:      name,
		Company:   company,
		Phone:     "03-1234-5678",
		Email:     "taro@test.co.jp",
		RawText:   name + "\n" + company,
		ScannedAt: at,
	}
}

func (s *PostgresSuite) TestSaveAndGet() {
	ctx := context.Background()
	c := sampleCard("山田太郎", "株式会社テスト", time.Now().Truncate(time.Microsecond))
	c.RawTextBack = "Yamada Taro"

	id, err := s.store.Save(ctx, c)
	s.Require().NoError(err)
	_, err = uuid.Parse(id)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(id, got.ID)
	s.Equal(c.Name, got.Name)
	s.Equal(c.RawTextBack, got.RawTextBack)
	s.True(c.ScannedAt.Equal(got.ScannedAt))
}

func (s *PostgresSuite) TestSaveWithIDIsIdempotent() {
	ctx := context.Background()
	c := sampleCard("山田太郎", "株式会社テスト", time.Now())
	c.ID = uuid.NewString()

	for range 2 {
		id, err := s.store.Save(ctx, c)
		s.Require().NoError(err)
		s.Equal(c.ID, id)
	}
	cards, err := s.store.List(ctx, 10, 0)
	s.Require().NoError(err)
	s.Len(cards, 1)
}

func (s *PostgresSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), uuid.NewString())
	s.True(apperrors.IsCode(err, apperrors.NotFound))
	_, err = s.store.Get(context.Background(), "not-a-uuid")
	s.True(apperrors.IsCode(err, apperrors.NotFound))
}

func (s *PostgresSuite) TestListAndSearch() {
	ctx := context.Background()
	base := time.Now()
	for i, c := range []card.Card{
		sampleCard("山田太郎", "株式会社テスト", base.Add(-2*time.Minute)),
		sampleCard("John Smith", "Acme Inc.", base.Add(-time.Minute)),
		sampleCard("佐藤花子", "100% Labs", base),
	} {
		_, err := s.store.Save(ctx, c)
		s.Require().NoError(err, i)
	}

	all, err := s.store.List(ctx, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("佐藤花子", all[0].Name, "newest first")

	page, err := s.store.List(ctx, 1, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("John Smith", page[0].Name)

	hits, err := s.store.Search(ctx, "acme", 10)
	s.Require().NoError(err)
	s.Require().Len(hits, 1)
	s.Equal("John Smith", hits[0].Name)

	hits, err = s.store.Search(ctx, "%", 10)
	s.Require().NoError(err)
	s.Require().Len(hits, 1, "percent is matched literally")
	s.Equal("100% Labs", hits[0].Company)

	hits, err = s.store.Search(ctx, "taro@", 10)
	s.Require().NoError(err)
	s.Len(hits, 3)
}

func (s *PostgresSuite) TestInsertAttempts() {
	ctx := context.Background()
	records := []audit.Record{
		{ID: uuid.New(), At: time.Now(), Outcome: "accepted", Trigger: "camera", Score: 70, DurationMS: 900},
		{ID: uuid.New(), At: time.Now(), Outcome: "duplicate", Trigger: "camera"},
		{ID: uuid.New(), At: time.Now(), Outcome: "duplicate", Trigger: "upload"},
	}
	n, err := s.store.InsertAttempts(ctx, records)
	s.Require().NoError(err)
	s.Equal(3, n)

	counts, err := s.store.CountAttempts(ctx)
	s.Require().NoError(err)
	s.Equal(map[string]int64{"accepted": 1, "duplicate": 2}, counts)
}

func TestPostgresUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := Open(ctx, "postgres://nobody:x@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.StoreFailed))
}
