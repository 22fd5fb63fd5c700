package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClusterSettings(t *testing.T) {
	s := DefaultClusterSettings()
	assert.True(t, s.HistoryEnabled)
	assert.Equal(t, 1000, s.HistoryMaxDocs)
	assert.Equal(t, 10, s.PerResultTriggerMaxAlerts)
	assert.False(t, s.FilterByBackendRoles)
}

func TestClusterSettingsStore_GetReflectsSet(t *testing.T) {
	store := NewClusterSettingsStore(DefaultClusterSettings())
	updated := DefaultClusterSettings()
	updated.HistoryMaxDocs = 5000
	store.Set(updated)
	assert.Equal(t, 5000, store.Get().HistoryMaxDocs)
}

func TestClusterSettingsStore_ConcurrentAccess(t *testing.T) {
	store := NewClusterSettingsStore(DefaultClusterSettings())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Get()
		}()
		go func(n int) {
			defer wg.Done()
			s := DefaultClusterSettings()
			s.HistoryMaxDocs = n
			store.Set(s)
		}(i)
	}
	wg.Wait()
}
