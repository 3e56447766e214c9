package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"
	"golang.org/x/mod/semver"
)

const (
	// VersionHeader optionally carries the remote adapter protocol version.
	VersionHeader = "Openship-Adapter-Version"
	// FunctionHeader names the slot being invoked on a remote adapter.
	FunctionHeader = "Openship-Function"

	// ProtocolMajor is the remote adapter protocol major this executor speaks.
	ProtocolMajor = "v1"

	maxRemoteBody = 10 << 20
)

// callRemote POSTs body as JSON to the target URL and decodes the response.
// body already carries the "platform" argument alongside the slot arguments.
func callRemote[Res any](ctx context.Context, e *Executor, target Target, slot string, body any) (*Res, error) {
	if l := e.limiter(target.URL); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, classify(err, target, slot)
		}
	}

	out, err := e.breaker(target.URL).Execute(func() (interface{}, error) {
		return e.post(ctx, target, slot, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &AdapterError{Cause: CauseCircuitOpen, Function: slot, Module: target.URL, Err: err}
		}
		return nil, classify(err, target, slot)
	}

	var res Res
	if err := json.Unmarshal(out.([]byte), &res); err != nil {
		return nil, &AdapterError{Cause: CauseAdapter, Function: slot, Module: target.URL,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	return &res, nil
}

func (e *Executor) post(ctx context.Context, target Target, slot string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(FunctionHeader, slot)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ae := &AdapterError{
			Cause:      CauseHTTP,
			Function:   slot,
			Module:     target.URL,
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
		}
		if msg := remoteErrorMessage(data); msg != "" {
			ae.Err = errors.New(msg)
		}
		return nil, ae
	}

	if v := resp.Header.Get(VersionHeader); v != "" {
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		if !semver.IsValid(v) || semver.Major(v) != ProtocolMajor {
			return nil, &AdapterError{Cause: CauseVersion, Function: slot, Module: target.URL,
				Err: fmt.Errorf("remote speaks %s, want %s.x", v, ProtocolMajor)}
		}
	}
	return data, nil
}

// remoteErrorMessage pulls {"error": "..."} or {"error": {"message": "..."}}
// out of an error body.
func remoteErrorMessage(data []byte) string {
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(data, &body) != nil || len(body.Error) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(body.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body.Error, &obj) == nil {
		return obj.Message
	}
	return ""
}
