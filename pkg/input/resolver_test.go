package input

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/bonsol-network/prover-node/pkg/protocol"
	solclient "github.com/bonsol-network/prover-node/pkg/solana"
)

func TestResolvePublicPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.Write([]byte("from-url"))
	}))
	defer srv.Close()

	signer := mustKeypair(t)
	r := New(solclient.NewClient(""), signer, 1<<20, 2*time.Second)

	inputs := []protocol.Input{
		{Kind: protocol.InputKindPublicUrl, URL: srv.URL},
		{Kind: protocol.InputKindPublicData, Data: []byte("inline")},
		{Kind: protocol.InputKindPrivate, URL: "https://example.com/private"},
	}

	out, err := r.ResolvePublic(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, ProgramInputResolved, out[0].State)
	require.Equal(t, []byte("from-url"), out[0].Bytes)
	require.Equal(t, ProgramInputResolved, out[1].State)
	require.Equal(t, []byte("inline"), out[1].Bytes)
	require.Equal(t, ProgramInputUnresolved, out[2].State)
	require.Equal(t, "https://example.com/private", out[2].URL)
}

func TestResolvePublicRejectsOversizedInlineData(t *testing.T) {
	signer := mustKeypair(t)
	r := New(solclient.NewClient(""), signer, 4, time.Second)

	_, err := r.ResolvePublic(context.Background(), []protocol.Input{
		{Kind: protocol.InputKindPublicData, Data: []byte("too-long")},
	})
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestValidateResolvedAcceptsDenseFullyResolvedVector(t *testing.T) {
	resolved := []ProgramInput{
		{Index: 0, State: ProgramInputResolved, Bytes: []byte("a")},
		{Index: 1, State: ProgramInputResolved, Bytes: []byte("b")},
	}
	require.NoError(t, ValidateResolved(resolved, 2))
}

func TestValidateResolvedRejectsArityMismatch(t *testing.T) {
	resolved := []ProgramInput{
		{Index: 0, State: ProgramInputResolved, Bytes: []byte("a")},
	}
	err := ValidateResolved(resolved, 2)
	require.ErrorIs(t, err, ErrArityMismatch)
}

func TestValidateResolvedRejectsUnresolvedEntry(t *testing.T) {
	resolved := []ProgramInput{
		{Index: 0, State: ProgramInputResolved, Bytes: []byte("a")},
		{Index: 1, State: ProgramInputUnresolved, URL: "https://example.com/private"},
	}
	err := ValidateResolved(resolved, 2)
	require.ErrorIs(t, err, ErrNotFullyResolved)
}

func TestResolvePrivateSignsAndAuthenticates(t *testing.T) {
	signer := mustKeypair(t)

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), "identity")
		w.Write([]byte("secret-bytes"))
	}))
	defer srv.Close()

	resolver := New(solclient.NewClient(""), signer, 1<<20, 2*time.Second)
	staged := []ProgramInput{
		{Index: 0, State: ProgramInputUnresolved, Type: protocol.InputKindPrivate, URL: srv.URL},
	}

	err := resolver.ResolvePrivate(context.Background(), []byte("ex-1"), staged)
	require.NoError(t, err)
	require.Equal(t, ProgramInputResolved, staged[0].State)
	require.Equal(t, []byte("secret-bytes"), staged[0].Bytes)
	require.Contains(t, gotAuth, "Bearer ")
}

func mustKeypair(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}
