package image

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/bonsol-network/prover-node/pkg/protocol"
)

func TestEnsureDownloadsAndVerifies(t *testing.T) {
	body := []byte("fake-risc-v-elf-bytes")
	id := protocol.ImageID(crypto.Keccak256Hash(body))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := New(Config{Dir: t.TempDir(), MaxEntries: 8, MaxImageSize: 1024, DownloadTimeout: 5 * time.Second})
	c.RegisterDeployment(&protocol.DeployV1{ImageID: id, URL: srv.URL, Size: uint64(len(body))})

	img, err := c.Ensure(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, body, img.Bytes)
	require.True(t, c.Has(id))
}

func TestEnsureRejectsHashMismatch(t *testing.T) {
	body := []byte("actual-bytes")
	var wrongID protocol.ImageID
	copy(wrongID[:], []byte("0000000000000000000000000000000"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := New(Config{Dir: t.TempDir(), MaxEntries: 8, MaxImageSize: 1024, DownloadTimeout: 5 * time.Second})
	c.RegisterDeployment(&protocol.DeployV1{ImageID: wrongID, URL: srv.URL, Size: uint64(len(body))})

	_, err := c.Ensure(context.Background(), wrongID)
	require.ErrorIs(t, err, ErrHashMismatch)
	require.False(t, c.Has(wrongID))
}

func TestEnsureRejectsOversizedDownload(t *testing.T) {
	body := make([]byte, 100)
	id := protocol.ImageID(crypto.Keccak256Hash(body))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := New(Config{Dir: t.TempDir(), MaxEntries: 8, MaxImageSize: 10, DownloadTimeout: 5 * time.Second})
	c.RegisterDeployment(&protocol.DeployV1{ImageID: id, URL: srv.URL, Size: uint64(len(body))})

	_, err := c.Ensure(context.Background(), id)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestEnsureUnknownImageFails(t *testing.T) {
	c := New(Config{Dir: t.TempDir(), MaxEntries: 8, MaxImageSize: 1024, DownloadTimeout: time.Second})
	var id protocol.ImageID
	_, err := c.Ensure(context.Background(), id)
	require.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestEvictIdleDropsInMemoryBytesOnly(t *testing.T) {
	body := []byte("bytes")
	id := protocol.ImageID(crypto.Keccak256Hash(body))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := New(Config{Dir: t.TempDir(), MaxEntries: 8, MaxImageSize: 1024, InMemoryTTL: time.Millisecond, DownloadTimeout: 5 * time.Second})
	c.RegisterDeployment(&protocol.DeployV1{ImageID: id, URL: srv.URL, Size: uint64(len(body))})

	_, err := c.Ensure(context.Background(), id)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	c.EvictIdle(time.Now())
	require.False(t, c.Has(id))

	img, err := c.Ensure(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, body, img.Bytes)
}

func TestEnforceEntryLimitEvictsLRU(t *testing.T) {
	c := New(Config{Dir: t.TempDir(), MaxEntries: 1, MaxImageSize: 1024, DownloadTimeout: 5 * time.Second})

	mkServer := func(body []byte) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(body)
		}))
	}

	bodyA := []byte("image-a")
	idA := protocol.ImageID(crypto.Keccak256Hash(bodyA))
	srvA := mkServer(bodyA)
	defer srvA.Close()
	c.RegisterDeployment(&protocol.DeployV1{ImageID: idA, URL: srvA.URL, Size: uint64(len(bodyA))})
	_, err := c.Ensure(context.Background(), idA)
	require.NoError(t, err)

	bodyB := []byte("image-b")
	idB := protocol.ImageID(crypto.Keccak256Hash(bodyB))
	srvB := mkServer(bodyB)
	defer srvB.Close()
	c.RegisterDeployment(&protocol.DeployV1{ImageID: idB, URL: srvB.URL, Size: uint64(len(bodyB))})
	_, err = c.Ensure(context.Background(), idB)
	require.NoError(t, err)

	require.False(t, c.Has(idA))
	require.True(t, c.Has(idB))
}
