package store

import "fmt"

// Drivers accepted by New.
const (
	DriverLevelDB = "leveldb"
	DriverSQLite  = "sqlite"
	DriverMemory  = "memory"
)

// Options selects and configures a store driver.
type Options struct {
	Driver string
	Path   string
	// RAMMegabytes enables the bigcache tier when positive.
	RAMMegabytes int
}

// New opens the store described by opts.
func New(opts Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch opts.Driver {
	case DriverLevelDB, "":
		st, err = OpenLevelDB(opts.Path)
	case DriverSQLite:
		st, err = OpenSQLite(opts.Path)
	case DriverMemory:
		st, err = OpenMemory()
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if opts.RAMMegabytes <= 0 {
		return st, nil
	}
	tiered, err := NewTiered(st, opts.RAMMegabytes)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ram tier: %w", err)
	}
	return tiered, nil
}
