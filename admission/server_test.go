package admission

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/request"
	"github.com/stretchr/testify/require"
)

type fakeAccountSource struct {
	accounts map[chain.Address]*chain.Account
}

func (f fakeAccountSource) Account(addr chain.Address) (*chain.Account, bool) {
	a, ok := f.accounts[addr]
	return a, ok
}

type fixedEpoch uint32

func (e fixedEpoch) Epoch() uint32 { return uint32(e) }

func adequateFee() *big.Int { return new(big.Int).Set(chain.MinTransactionFee) }

func newTestServer(t *testing.T) (*Server, chain.Address) {
	t.Helper()
	origin := chain.Address{1}
	acct := chain.NewAccount(origin)
	acct.Balance = new(big.Int).Mul(chain.MinTransactionFee, big.NewInt(10))

	accounts := fakeAccountSource{accounts: map[chain.Address]*chain.Account{origin: acct}}
	pipeline := request.NewPipeline(accounts, 0, 1, func() time.Time { return time.Unix(0, 0) })
	return NewServer(pipeline, fixedEpoch(1)), origin
}

func TestHandleJSONAcceptsAWellFormedSend(t *testing.T) {
	s, origin := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dest := chain.Address{2}
	req := chain.Request{
		Type:         chain.RequestSend,
		Origin:       origin,
		Fee:          adequateFee(),
		Transactions: []chain.Transaction{{Destination: dest, Amount: big.NewInt(5)}},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/submit/json", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "progress", out.Result)
	require.NotEmpty(t, out.Hash)
}

func TestHandleJSONReportsDuplicateOnResubmission(t *testing.T) {
	s, origin := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req := chain.Request{
		Type:         chain.RequestSend,
		Origin:       origin,
		Fee:          adequateFee(),
		Transactions: []chain.Transaction{{Destination: chain.Address{2}, Amount: big.NewInt(1)}},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	for i, want := range []string{"progress", "duplicate"} {
		resp, err := http.Post(srv.URL+"/v1/submit/json", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		var out submitResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		resp.Body.Close()
		require.Equalf(t, want, out.Result, "submission %d", i)
	}
}

func TestHandleJSONRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/submit/json", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func le128(v int64) []byte {
	return le128Big(big.NewInt(v))
}

// le128Big renders v as a 16-byte little-endian field, the same layout
// decodeBinarySend expects for fee and amount. Takes a *big.Int rather
// than an int64 throughout so MinTransactionFee (10^22, which overflows
// int64) can be rendered directly.
func le128Big(v *big.Int) []byte {
	out := make([]byte, 16)
	b := v.Bytes()
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

func TestDecodeBinarySendRoundTripsOneTransaction(t *testing.T) {
	origin := chain.Address{9}
	dest := chain.Address{8}

	var buf bytes.Buffer
	buf.Write(origin[:])
	buf.Write(make([]byte, 64)) // signature
	buf.Write(make([]byte, 32)) // previous
	buf.Write(le128(10))        // fee
	buf.WriteByte(1)             // n_transactions
	buf.Write(dest[:])
	buf.Write(le128(5))

	req, err := decodeBinarySend(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, origin, req.Origin)
	require.Equal(t, chain.RequestSend, req.Type)
	require.Equal(t, big.NewInt(10), req.Fee)
	require.Len(t, req.Transactions, 1)
	require.Equal(t, dest, req.Transactions[0].Destination)
	require.Equal(t, big.NewInt(5), req.Transactions[0].Amount)
}

func TestDecodeBinarySendRejectsTruncatedPayload(t *testing.T) {
	_, err := decodeBinarySend(make([]byte, binarySendMinLen-1))
	require.Error(t, err)
}

func TestDecodeBinarySendRejectsLengthMismatchedTransactionCount(t *testing.T) {
	b := make([]byte, binarySendMinLen)
	b[binarySendMinLen-1] = 2 // claims 2 transactions but supplies none
	_, err := decodeBinarySend(b)
	require.Error(t, err)
}

func TestHandleBinaryAcceptsAWellFormedSend(t *testing.T) {
	s, origin := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dest := chain.Address{2}
	var buf bytes.Buffer
	buf.Write(origin[:])
	buf.Write(make([]byte, 64))
	buf.Write(make([]byte, 32))
	buf.Write(le128Big(adequateFee()))
	buf.WriteByte(1)
	buf.Write(dest[:])
	buf.Write(le128(3))

	resp, err := http.Post(srv.URL+"/v1/submit/bin", "application/octet-stream", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "progress", out.Result)
}
