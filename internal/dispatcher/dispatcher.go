// Package dispatcher is the Request Dispatcher (spec §4.4): given a
// credential the caller has already acquired, it drives Transport + Stream
// Framer, retries 429 with
// exponential-ish backoff, bifurcates 403 into context-overflow vs
// account-disable, and propagates client cancellation into the upstream
// read. Grounded on the teacher's internal/relay/relay.go Handle method's
// overall shape (acquire -> build request -> send -> stream/aggregate).
package dispatcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"time"

	"antigravity-gateway/internal/accountpool"
	"antigravity-gateway/internal/gatewayerr"
	"antigravity-gateway/internal/model"
	"antigravity-gateway/internal/streamframer"
	"antigravity-gateway/internal/transport"
)

// Dispatcher wires the Credential Pool, Transport, and Stream Framer
// together for one call at a time, per §4.4.
type Dispatcher struct {
	Pool        *accountpool.Pool
	Transport   *transport.Manager
	APIURL      string
	NoStreamURL string
	UserAgent   string

	RetryTimes int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// FramerFactory builds a fresh Framer scoped to one call's (sessionId,
// model) cache-key pair.
type FramerFactory func(sessionID, model string) *streamframer.Framer

// Stream drains one streaming call against an already-acquired account,
// delivering events to emit in byte-arrival order. The caller acquires the
// account (the Protocol Translator needs its SessionID before it can build
// the request, per §4.2's signature-cache keying) and is responsible for
// releasing it; Stream only decides, via the returned error's Kind, whether
// that release should instead be a Disable.
func (d *Dispatcher) Stream(ctx context.Context, acct *accountpool.Account, req *model.InternalRequest, newFramer FramerFactory, emit func(model.Event)) error {
	resp, gerr := d.sendWithRetry(ctx, d.APIURL, acct, req)
	if gerr != nil {
		return gerr
	}
	defer resp.Body.Close()

	body, derr := decompress(resp)
	if derr != nil {
		return gatewayerr.NewInternalError("decompress upstream stream: " + derr.Error())
	}

	framer := newFramer(acct.SessionID, req.Model)
	runErr := framer.Run(body, emit)
	if runErr != nil && ctx.Err() != nil {
		// Client disconnected: not a quota signal, per §4.4.
		return gatewayerr.NewCancelledError()
	}
	if runErr != nil {
		return gatewayerr.NewInternalError("stream framer: " + runErr.Error())
	}
	return nil
}

// Aggregate drains one non-streaming call against an already-acquired
// account into a single AggregatedResult.
func (d *Dispatcher) Aggregate(ctx context.Context, acct *accountpool.Account, req *model.InternalRequest, newFramer FramerFactory) (*model.AggregatedResult, error) {
	resp, gerr := d.sendWithRetry(ctx, d.NoStreamURL, acct, req)
	if gerr != nil {
		return nil, gerr
	}
	defer resp.Body.Close()

	body, derr := decompress(resp)
	if derr != nil {
		return nil, gatewayerr.NewInternalError("decompress upstream response: " + derr.Error())
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, gatewayerr.NewInternalError("read upstream response: " + err.Error())
	}

	framer := newFramer(acct.SessionID, req.Model)
	var events []model.Event
	if err := framer.DecodeRecord(raw, func(e model.Event) { events = append(events, e) }); err != nil {
		return nil, gatewayerr.NewInternalError("decode upstream response: " + err.Error())
	}
	result := aggregate(events)
	return &result, nil
}

func aggregate(events []model.Event) model.AggregatedResult {
	var res model.AggregatedResult
	for _, e := range events {
		switch e.Kind {
		case model.EventReasoning:
			res.ReasoningContent += e.Text
			if e.ThoughtSig != "" {
				res.ReasoningSignature = e.ThoughtSig
			}
		case model.EventText:
			res.Content += e.Text
		case model.EventToolCalls:
			res.ToolCalls = append(res.ToolCalls, e.ToolCalls...)
		case model.EventUsage:
			res.Usage = e.Usage
			res.FinishReason = e.FinishReason
		}
	}
	return res
}

// sendWithRetry posts the internal request body, retrying only HTTP 429 up
// to RetryTimes with exponential-ish backoff capped at MaxDelay (§4.4).
func (d *Dispatcher) sendWithRetry(ctx context.Context, url string, acct *accountpool.Account, req *model.InternalRequest) (*http.Response, *gatewayerr.GatewayError) {
	payload, err := json.Marshal(req.Request)
	if err != nil {
		return nil, gatewayerr.NewValidationError("encode internal request: " + err.Error())
	}

	client := d.Transport.Client()
	if req.Stream {
		client = d.Transport.StreamClient()
	}

	var lastErr *gatewayerr.GatewayError
	for attempt := 1; attempt <= max(1, d.RetryTimes); attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, gatewayerr.NewInternalError("build upstream request: " + err.Error())
		}
		httpReq.Header.Set("Authorization", "Bearer "+acct.AccessToken)
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept-Encoding", "gzip")
		httpReq.Header.Set("User-Agent", d.UserAgent)

		resp, err := client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, gatewayerr.NewCancelledError()
			}
			return nil, gatewayerr.NewUpstreamError(http.StatusBadGateway, "transport error: "+err.Error(), "")
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = gatewayerr.NewRateLimitError("upstream rate limited")
			if attempt < d.RetryTimes {
				select {
				case <-time.After(backoff(attempt, d.BaseDelay, d.MaxDelay)):
					continue
				case <-ctx.Done():
					return nil, gatewayerr.NewCancelledError()
				}
			}
			continue
		}

		if resp.StatusCode == http.StatusForbidden {
			if gatewayerr.IsContextOverflow(string(body)) {
				return nil, gatewayerr.NewValidationError("exceeded model max context: " + string(body))
			}
			return nil, &gatewayerr.GatewayError{Kind: gatewayerr.KindAuth, Status: 403, Message: "no usage permission", UpstreamBody: string(body)}
		}

		return nil, gatewayerr.NewUpstreamError(resp.StatusCode, "upstream error", string(body))
	}
	return nil, lastErr
}

// Release reports the outcome of one Stream/Aggregate call back to the
// pool, per §4.4: a cancelled call doesn't affect rotation state at all
// (closing the client connection must not persist a quota signal, §5); an
// auth-shaped 403 disables the account permanently for this process; any
// other error is a transport-level failure; nil means success.
func (d *Dispatcher) Release(acct *accountpool.Account, err error) {
	if err == nil {
		d.Pool.Release(acct, accountpool.OutcomeOK)
		return
	}
	gerr, ok := err.(*gatewayerr.GatewayError)
	switch {
	case ok && gerr.Kind == gatewayerr.KindCancelled:
		d.Pool.Release(acct, accountpool.OutcomeOK)
	case ok && gerr.Kind == gatewayerr.KindAuth && gerr.Status == 403 && gatewayerr.IsQuotaExhausted(gerr.UpstreamBody):
		d.Pool.MarkQuotaExhausted(acct.ID)
	case ok && gerr.Kind == gatewayerr.KindAuth && gerr.Status == 403 && !gatewayerr.IsContextOverflow(gerr.UpstreamBody):
		d.Pool.Disable(acct.ID)
	default:
		d.Pool.Release(acct, accountpool.OutcomeTransportError)
	}
}

func backoff(attempt int, base, max time.Duration) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(base)))
	return d + jitter
}

func decompress(resp *http.Response) (io.Reader, error) {
	if resp.Header.Get("Content-Encoding") == "gzip" {
		return gzip.NewReader(resp.Body)
	}
	return resp.Body, nil
}

