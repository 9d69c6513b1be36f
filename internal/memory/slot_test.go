package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotTakeIsAtMostOnce(t *testing.T) {
	var s Slot
	s.Publish(&InjectedContext{Texts: []string{"a"}})

	got := s.Take()
	assert.NotNil(t, got)
	assert.Equal(t, []string{"a"}, got.Texts)
	assert.Nil(t, s.Take(), "a taken context must not be observable again")
}

func TestSlotPublishReplacesUnconsumed(t *testing.T) {
	var s Slot
	s.Publish(&InjectedContext{Texts: []string{"stale"}})
	s.Publish(&InjectedContext{Texts: []string{"latest"}})

	got := s.Take()
	assert.NotNil(t, got)
	assert.Equal(t, []string{"latest"}, got.Texts, "slot keeps only the latest value")
	assert.Nil(t, s.Take())
}

func TestSlotEmptyTakeNeverBlocks(t *testing.T) {
	var s Slot
	assert.Nil(t, s.Take())
}

func TestSlotClear(t *testing.T) {
	var s Slot
	s.Publish(&InjectedContext{Texts: []string{"a"}})
	s.Clear()
	assert.Nil(t, s.Take())
}
