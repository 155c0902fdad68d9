package factory

import (
	"time"

	"github.com/mcoot/bunker/internal/dependencies/mocks"
	memoryfeed "github.com/mcoot/bunker/internal/feed/memory"
	"github.com/mcoot/bunker/internal/services/auth"
	"github.com/mcoot/bunker/internal/storage/memory"
	"github.com/mcoot/bunker/internal/testutil"
	"github.com/mcoot/bunker/internal/traits"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockIDs    *mocks.SequentialIDs
	MockRandom *mocks.MockRandom
	Broker     *memoryfeed.Broker
}

// NewTestApp creates an App on in-memory storage and the in-process broker
// with mocked clock, ids and randomness
func NewTestApp() *TestApp {
	logger := testutil.NopLogger()
	store := memory.New()
	broker := memoryfeed.New(logger)
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockIDs := mocks.NewSequentialIDs("id")
	mockRandom := mocks.NewMockRandom()

	app := newWithDependencies(store, broker, mockClock, mockIDs, mockRandom, traits.DefaultPool(), auth.DefaultConfig(), logger)

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockIDs:    mockIDs,
		MockRandom: mockRandom,
		Broker:     broker,
	}
}

// Close shuts the hubs and the broker
func (t *TestApp) Close() error {
	t.HubManager.Close()
	return t.Broker.Close()
}
