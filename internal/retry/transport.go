package retry

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

// Transport retries requests that failed to connect or were answered with a
// gateway error (502, 503, 504).
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	for attempt := uint(0); ; attempt++ {
		response, err := t.base().RoundTrip(request)
		if !retriable(response, err) {
			return response, err
		}

		sleep, exceeded := t.retryStrategy().Sleep(attempt)
		if exceeded {
			return response, err
		}
		if response != nil {
			_, _ = io.Copy(io.Discard, response.Body)
			response.Body.Close()
		}

		if request.Body != nil && request.Body != http.NoBody {
			if request.GetBody == nil {
				return nil, xerrors.Errorf("failed to retry %s %s: request body cannot be rewound", request.Method, request.URL)
			}
			body, err := request.GetBody()
			if err != nil {
				return nil, xerrors.Errorf("failed to rewind request body: %w", err)
			}
			request = request.Clone(request.Context())
			request.Body = body
		}

		timer := time.NewTimer(sleep)
		select {
		case <-request.Context().Done():
			timer.Stop()
			return nil, request.Context().Err()
		case <-timer.C:
		}
	}
}

func retriable(response *http.Response, err error) bool {
	if err != nil {
		var netErr net.Error
		return (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, io.EOF) || isConnectFailure(err)
	}
	return response.StatusCode >= 502 && response.StatusCode < 505
}

func isConnectFailure(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
