package sql

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/storage/storagetest"
	"github.com/mcoot/bunker/internal/testutil"
)

type StorageSuite struct {
	storagetest.Suite
	storage *Storage
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	cfg := InMemorySQLiteConfig()
	// A distinct in-memory database per test.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(s.T().Name())
	cfg.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	st, err := New(cfg, testutil.NopLogger())
	s.Require().NoError(err)
	s.storage = st
	s.Reset(st)
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
}

func (s *StorageSuite) TestSchemaHasParticipantsTable() {
	s.True(s.storage.db.Migrator().HasTable("lobby_participants"))
	s.True(s.storage.db.Migrator().HasIndex(&participantRecord{}, "UserID"))
}

func (s *StorageSuite) TestTraitColumnsRoundTrip() {
	s.CreateLobby("alpha", "pw", "alice")
	traits := model.Traits{Profession: "Pilot", Age: 33, BagItem: "Rope", AdditionalTraits: "Calm"}

	_, err := s.storage.UpdateTraits(s.Ctx, "alice", traits)
	s.Require().NoError(err)

	row, err := s.storage.GetParticipation(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(traits, row.Traits)
}

func (s *StorageSuite) TestSeqKeepsGrowingAfterLeaves() {
	s.CreateLobby("alpha", "pw", "alice")
	s.Join("alpha", "pw", "bob")
	s.Join("alpha", "pw", "carol")
	_, err := s.storage.DeleteParticipation(s.Ctx, "bob")
	s.Require().NoError(err)
	s.Equal(2, s.Join("alpha", "pw", "dave"))

	var seqs []int64
	err = s.storage.db.Model(&participantRecord{}).
		Where("lobby_name = ?", "alpha").
		Order(joinOrder).
		Pluck("seq", &seqs).Error
	s.Require().NoError(err)
	s.Equal([]int64{1, 3, 4}, seqs)
}

func (s *StorageSuite) TestUnknownDriver() {
	_, err := New(Config{Driver: "oracle"}, testutil.NopLogger())
	s.Error(err)
}
