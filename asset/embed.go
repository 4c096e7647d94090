package asset

import (
	"embed"
	"fmt"
	"sync"
)

//go:embed files/*.gz
var embedFS embed.FS

var (
	defaultStore     *Store
	defaultStoreOnce sync.Once
)

// Default returns the store built from the blobs compiled into the binary.
// It panics if the embedded table is misconfigured.
func Default() *Store {
	defaultStoreOnce.Do(func() {
		store, err := NewStore(DefaultEntries()...)
		if err != nil {
			panic(err)
		}
		defaultStore = store
	})
	return defaultStore
}

// DefaultEntries returns the alias table of the embedded blobs.
func DefaultEntries() []Entry {
	index := mustLoad("files/index.html.gz")
	style := mustLoad("files/style.css.gz")

	return []Entry{
		Alias("/", index),
		Alias("/index.htm", index),
		Alias("/index.html", index),
		Alias("/style.css", style),
	}
}

func mustLoad(name string) *Resource {
	data, err := embedFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("asset: embedded file %s missing: %v", name, err))
	}
	return &Resource{Name: name, Data: data}
}
