// Package callback posts a committed R-block's JSON serialization to a
// configured HTTP endpoint after commit. It is intentionally minimal:
// one POST, logged and discarded on failure, no retry queue — delivery
// reliability is treated as infrastructure the receiving endpoint owns,
// not this node's concern (see Non-goals).
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/ethereum/go-ethereum/log"
)

// defaultTimeout bounds how long a single POST may block a caller; the
// webhook target is external infrastructure and must not be allowed to
// stall the writer domain.
const defaultTimeout = 5 * time.Second

// Poster posts committed blocks to a single configured URL.
type Poster struct {
	url    string
	client *http.Client
	log    log.Logger
}

// New returns a Poster that posts to url using an http.Client bounded
// by defaultTimeout. A zero-value url disables posting; PostRequestBlock
// becomes a no-op.
func New(url string) *Poster {
	return &Poster{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
		log:    log.New("module", "callback"),
	}
}

// PostRequestBlock serializes block to JSON and POSTs it to the
// configured URL. Failures are logged and discarded; callers never see
// an error because a callback failure must never affect commit
// processing.
func (p *Poster) PostRequestBlock(ctx context.Context, block *chain.RequestBlock) {
	if p == nil || p.url == "" {
		return
	}

	body, err := json.Marshal(block)
	if err != nil {
		p.log.Error("failed to marshal committed block for callback", "digest", block.Digest(), "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		p.log.Error("failed to build callback request", "url", p.url, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("callback post failed", "url", p.url, "digest", block.Digest(), "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		p.log.Warn("callback endpoint returned non-2xx", "url", p.url, "status", resp.StatusCode, "digest", block.Digest())
	}
}
