package testutil

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	testing "github.com/mitchellh/go-testing-interface"
	dynaport "github.com/travisjeffery/go-dynaport"

	"github.com/casklog/casklog/config"
	"github.com/casklog/casklog/store"
)

// TestConfig returns a config for a node backed by an in-memory store with a
// free HTTP port, and the temp dir it may write to.
func TestConfig(t testing.T) (string, *config.Config) {
	dir := tempDir(t, "casklog")
	cfg := config.DefaultConfig()
	ports := dynaport.Get(1)
	cfg.NodeID = uniqueNodeName(t.Name())
	cfg.Store.Backend = config.StoreMemory
	cfg.Store.LevelDBPath = filepath.Join(dir, "leveldb")
	cfg.Store.DialTimeout = time.Second
	cfg.HTTPAddr = fmt.Sprintf("127.0.0.1:%d", ports[0])
	return dir, cfg
}

// NewTestStores returns a fresh in-memory store shared by both roles. Nodes
// under test share one by passing the same Stores to each.
func NewTestStores(t testing.T) store.Stores {
	db, err := store.NewMemDB()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	return store.Stores{Linear: db, Aux: db}
}

var tmpDir = "/tmp/casklog-test"

func init() {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		fmt.Printf("Cannot create %s. Reverting to /tmp\n", tmpDir)
		tmpDir = "/tmp"
	}
}

func tempDir(t testing.T, name string) string {
	if t != nil && t.Name() != "" {
		name = t.Name() + "-" + name
	}
	name = strings.Replace(name, "/", "_", -1)
	d, err := ioutil.TempDir(tmpDir, name)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	return d
}

var id int64

func uniqueNodeName(name string) string {
	return fmt.Sprintf("%s-node-%d", name, atomic.AddInt64(&id, 1))
}
