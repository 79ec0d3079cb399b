// Package admission implements the HTTP endpoint user-facing
// transaction-acceptor processes submit Requests through: a JSON route
// and a binary route, both forwarding to a request.Pipeline and
// returning the same { result, hash } shape either way.
//
// Wallet key management and per-account signature verification are
// explicitly out of scope (Non-goals); a Request's Signature field
// rides through as opaque bytes, as original_source's own
// Persistence/Validate list leaves account-key cryptography to an
// external wallet layer rather than the consensus core.
package admission

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/request"
	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
)

// maxBinarySubmissionSize bounds a single binary submission: the fixed
// prefix plus chain.BatchSize transaction entries, generous headroom
// over any single legitimate Send.
const maxBinarySubmissionSize = binarySendMinLen + chain.BatchSize*transactionLen

// EpochSource reports the current epoch number, used to evaluate
// reservation expiry for submitted requests. epoch.Transition
// implements this directly.
type EpochSource interface {
	Epoch() uint32
}

// Server routes Send-admission HTTP requests to a Pipeline.
type Server struct {
	pipeline *request.Pipeline
	epoch    EpochSource
	log      log.Logger
}

// NewServer returns a Server that submits admitted requests to
// pipeline, evaluating reservation expiry against epoch's current
// value at submission time.
func NewServer(pipeline *request.Pipeline, epoch EpochSource) *Server {
	return &Server{
		pipeline: pipeline,
		epoch:    epoch,
		log:      log.New("module", "admission"),
	}
}

// Handler returns the httprouter.Router serving both admission routes.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.POST("/v1/submit/json", s.handleJSON)
	r.POST("/v1/submit/bin", s.handleBinary)
	return r
}

// submitResponse is the wire shape of { result, hash } from §6.
type submitResponse struct {
	Result string `json:"result"`
	Hash   string `json:"hash"`
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req chain.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Debug("rejected malformed json submission", "err", err)
		writeJSON(w, http.StatusBadRequest, submitResponse{Result: "invalid_json"})
		return
	}
	s.submit(w, &req)
}

func (s *Server) handleBinary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBinarySubmissionSize+1))
	if err != nil {
		s.log.Debug("failed to read binary submission", "err", err)
		writeJSON(w, http.StatusBadRequest, submitResponse{Result: "invalid_bytes"})
		return
	}

	req, err := decodeBinarySend(body)
	if err != nil {
		s.log.Debug("rejected malformed binary submission", "err", err)
		writeJSON(w, http.StatusBadRequest, submitResponse{Result: "invalid_bytes"})
		return
	}
	s.submit(w, req)
}

func (s *Server) submit(w http.ResponseWriter, req *chain.Request) {
	hash := req.Hash()
	result := s.pipeline.Submit(req, s.epoch.Epoch())
	writeJSON(w, http.StatusOK, submitResponse{
		Result: submitResultName(result),
		Hash:   hash.Hex(),
	})
}

func submitResultName(r request.SubmitResult) string {
	switch r {
	case request.Accepted:
		return "progress"
	case request.Duplicate:
		return "duplicate"
	case request.InsufficientFee:
		return "insufficient_fee"
	case request.BurnAccount:
		return "opened_burn_account"
	case request.Reserved:
		return "reserved"
	case request.UnknownOrigin:
		return "invalid_origin"
	case request.InsufficientBalance:
		return "invalid_balance"
	default:
		return "unknown"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// binarySendMinLen is the fixed-width prefix of an encoded Send before
// its variable-length transaction list: origin(32) + signature(64) +
// previous(32) + fee(16) + n_transactions(1).
const binarySendMinLen = 32 + 64 + 32 + 16 + 1

// transactionLen is the width of one (destination, amount) pair:
// destination(32) + amount(16).
const transactionLen = 32 + 16

// decodeBinarySend parses the §6 binary Send encoding:
// { origin: 32B, signature: 64B, previous: 32B, fee: 16B LE,
//   n_transactions: 1B, (destination: 32B, amount: 16B LE)* }.
func decodeBinarySend(b []byte) (*chain.Request, error) {
	if len(b) < binarySendMinLen {
		return nil, fmt.Errorf("admission: binary submission too short: %d bytes", len(b))
	}

	req := &chain.Request{Type: chain.RequestSend}
	off := 0

	copy(req.Origin[:], b[off:off+32])
	off += 32

	copy(req.Signature[:], b[off:off+64])
	off += 64

	copy(req.Previous[:], b[off:off+32])
	off += 32

	req.Fee = uint128LEToBig(b[off : off+16])
	off += 16

	n := int(b[off])
	off++

	want := binarySendMinLen + n*transactionLen
	if len(b) != want {
		return nil, fmt.Errorf("admission: binary submission has %d bytes, want %d for %d transactions", len(b), want, n)
	}

	req.Transactions = make([]chain.Transaction, n)
	for i := 0; i < n; i++ {
		var tx chain.Transaction
		copy(tx.Destination[:], b[off:off+32])
		off += 32
		tx.Amount = uint128LEToBig(b[off : off+16])
		off += 16
		req.Transactions[i] = tx
	}

	return req, nil
}

// uint128LEToBig interprets a 16-byte little-endian field as an
// unsigned integer.
func uint128LEToBig(le []byte) *big.Int {
	be := make([]byte, len(le))
	for i, v := range le {
		be[len(le)-1-i] = v
	}
	return new(big.Int).SetBytes(be)
}
