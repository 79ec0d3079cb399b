package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/stretchr/testify/require"
)

func sampleBlock() *chain.RequestBlock {
	return &chain.RequestBlock{
		Epoch:           1,
		Sequence:        3,
		Timestamp:       time.Unix(0, 0).UTC(),
		PrimaryDelegate: 2,
	}
}

func TestPostRequestBlockDeliversJSONBody(t *testing.T) {
	var gotBody chain.RequestBlock
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(srv.URL)
	p.PostRequestBlock(context.Background(), sampleBlock())

	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, uint32(1), gotBody.Epoch)
	require.Equal(t, uint32(3), gotBody.Sequence)
}

func TestPostRequestBlockWithEmptyURLIsANoOp(t *testing.T) {
	p := New("")
	// Must not panic or block; there is nothing to assert beyond "returns".
	p.PostRequestBlock(context.Background(), sampleBlock())
}

func TestPostRequestBlockSwallowsConnectionFailures(t *testing.T) {
	p := New("http://127.0.0.1:1")
	p.PostRequestBlock(context.Background(), sampleBlock())
}

func TestPostRequestBlockSwallowsNon2xxResponses(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(srv.URL)
	p.PostRequestBlock(context.Background(), sampleBlock())
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}
