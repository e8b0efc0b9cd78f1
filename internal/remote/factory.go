package remote

import (
	"fmt"

	"github.com/alexjbarnes/remotesync/internal/engine"
)

// Service types the factory can build. The service type also feeds the
// ledger profile id, so renaming one orphans its sync history.
const (
	ServiceDirStore = "dirstore"
	ServiceMemory   = "memory"
)

// New builds the RemoteClient for a configured service type. dir is the
// backing directory for directory-based services.
func New(serviceType, dir string) (engine.RemoteClient, error) {
	switch serviceType {
	case ServiceDirStore:
		return NewDirStore(dir)
	case ServiceMemory:
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown service type %q", serviceType)
	}
}
