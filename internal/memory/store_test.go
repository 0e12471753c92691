package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierStore_AddInsertsIntoWorking(t *testing.T) {
	s := NewTierStore(nil)

	item := s.Add("some content", Metadata{Type: TypeClipboard, Application: "editor"})
	require.NotEmpty(t, item.ID)
	assert.Equal(t, TierWorking, item.Tier)
	assert.Equal(t, TypeClipboard, item.Type)
	assert.Equal(t, "editor", item.Application)

	found, ok := s.FindByID(item.ID)
	require.True(t, ok)
	assert.Equal(t, item.Content, found.Content)
}

func TestTierStore_PromoteDemoteRoundTrip(t *testing.T) {
	s := NewTierStore(nil)
	item := s.Add("round trip", Metadata{Type: TypeMemory})

	require.True(t, s.Promote(item.ID))
	mid, ok := s.FindByID(item.ID)
	require.True(t, ok)
	assert.Equal(t, TierShortTerm, mid.Tier)

	require.True(t, s.Demote(item.ID))
	back, ok := s.FindByID(item.ID)
	require.True(t, ok)

	// The item returns to its original tier with identity preserved.
	assert.Equal(t, TierWorking, back.Tier)
	assert.Equal(t, item.ID, back.ID)
	assert.Equal(t, item.Content, back.Content)
	assert.Equal(t, item.Timestamp, back.Timestamp)
}

func TestTierStore_PromotionClampsAtLongTerm(t *testing.T) {
	s := NewTierStore(nil)
	item := s.Add("climber", Metadata{})

	require.True(t, s.Promote(item.ID)) // working -> short_term
	require.True(t, s.Promote(item.ID)) // short_term -> long_term
	require.True(t, s.Promote(item.ID)) // clamped

	got, ok := s.FindByID(item.ID)
	require.True(t, ok)
	assert.Equal(t, TierLongTerm, got.Tier)
}

func TestTierStore_DemotionClampsAtWorking(t *testing.T) {
	s := NewTierStore(nil)
	item := s.Add("floor", Metadata{})

	require.True(t, s.Demote(item.ID))
	got, ok := s.FindByID(item.ID)
	require.True(t, ok)
	assert.Equal(t, TierWorking, got.Tier)
}

func TestTierStore_SingleTierMembership(t *testing.T) {
	s := NewTierStore(nil)
	item := s.Add("exclusive", Metadata{})
	s.Promote(item.ID)

	// The item is visible in exactly one tier.
	seen := 0
	for _, tier := range []Tier{TierWorking, TierShortTerm, TierLongTerm} {
		for _, got := range s.TierItems(tier) {
			if got.ID == item.ID {
				seen++
			}
		}
	}
	assert.Equal(t, 1, seen)
}

func TestTierStore_MovesAtomicUnderConcurrentLookup(t *testing.T) {
	s := NewTierStore(nil)
	item := s.Add("contended", Metadata{})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			// No window where the item is in zero or two tiers.
			got, ok := s.FindByID(item.ID)
			if !ok {
				t.Error("item vanished during tier move")
				return
			}
			if !got.Tier.Valid() {
				t.Errorf("item in unknown tier %q", got.Tier)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		s.Promote(item.ID)
		s.Demote(item.ID)
	}
	close(stop)
	wg.Wait()
}

func TestTierStore_AccessRecordsRecency(t *testing.T) {
	s := NewTierStore(nil)
	item := s.Add("touched", Metadata{})

	got, ok := s.Access(item.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotZero(t, got.LastAccess)

	// Miss has no side effects.
	_, ok = s.Access("missing")
	assert.False(t, ok)
}

func TestTierStore_DeleteAndClear(t *testing.T) {
	s := NewTierStore(nil)
	a := s.Add("a", Metadata{})
	b := s.Add("b", Metadata{})
	s.Promote(b.ID)

	assert.True(t, s.Delete(a.ID))
	assert.False(t, s.Delete(a.ID))

	s.ClearTier(TierShortTerm)
	_, ok := s.FindByID(b.ID)
	assert.False(t, ok)

	s.Add("c", Metadata{})
	s.ClearAll()
	assert.Zero(t, s.Len())
}

func TestTierStore_Stats(t *testing.T) {
	s := NewTierStore(nil)
	s.Add("w", Metadata{})
	b := s.Add("s", Metadata{})
	s.Promote(b.ID)

	stats := s.Stats()
	assert.Equal(t, 1, stats.Working)
	assert.Equal(t, 1, stats.ShortTerm)
	assert.Equal(t, 0, stats.LongTerm)
	assert.Equal(t, 2, stats.Total)
}

func TestTierStore_RestorePlacesItemsInRecordedTier(t *testing.T) {
	s := NewTierStore(nil)

	restored := s.Restore([]ContextItem{
		{ID: "lt", Content: "kept", Tier: TierLongTerm, Timestamp: 1},
		{ID: "bad-tier", Content: "defaulted", Tier: Tier("bogus"), Timestamp: 2},
		{Content: "no id"},
	})
	assert.Equal(t, 2, restored)

	got, ok := s.FindByID("lt")
	require.True(t, ok)
	assert.Equal(t, TierLongTerm, got.Tier)

	got, ok = s.FindByID("bad-tier")
	require.True(t, ok)
	assert.Equal(t, TierLongTerm, got.Tier)
}

func TestTierStore_OnMutate(t *testing.T) {
	s := NewTierStore(nil)
	fired := 0
	s.OnMutate(func() { fired++ })

	item := s.Add("x", Metadata{})
	s.Promote(item.ID)
	s.Delete(item.ID)
	assert.Equal(t, 3, fired)

	// Lookups are not mutations.
	s.FindByID("whatever")
	assert.Equal(t, 3, fired)
}
