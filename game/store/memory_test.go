package store_test

import (
	"testing"

	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunKVSuite(t, func(t *testing.T) store.KV {
		return store.NewMemoryStore()
	})
}
