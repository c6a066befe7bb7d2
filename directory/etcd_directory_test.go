package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"traitport/registry"
)

func TestPublishAndLookup(t *testing.T) {
	dir, err := NewEtcdDirectory([]string{"localhost:2379"})
	require.NoError(t, err)

	rec1 := RootRecord{Name: "Arith", Addr: "127.0.0.1:8001", Handle: registry.HandleToExchange{Epoch: 1, ServiceID: 1}}
	rec2 := RootRecord{Name: "Arith", Addr: "127.0.0.1:8002", Handle: registry.HandleToExchange{Epoch: 1, ServiceID: 1}}

	require.NoError(t, dir.Publish(rec1, 10))
	require.NoError(t, dir.Publish(rec2, 10))

	records, err := dir.Lookup("Arith")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, dir.Withdraw("Arith", rec1.Addr))
	time.Sleep(100 * time.Millisecond)

	records, err = dir.Lookup("Arith")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rec2.Addr, records[0].Addr)

	dir.Withdraw("Arith", rec2.Addr)
}
