package scale

import (
	"context"
	"errors"
	"fmt"

	"github.com/itohio/goweigh/pkg/link"
)

// ErrCommandTimeout is returned by SendCommand if the response was not
// complete before the deadline. The partial response is returned with it.
var ErrCommandTimeout = errors.New("command timeout")

// SendCommand writes request and reads a response of responseLen bytes.
//
// The telegram receiver is suspended for the whole exchange and pending
// input is discarded before the request is written, so telegram bytes are
// never mixed into the response. The exchange is bounded by the deadline of
// ctx, or by the command timeout if ctx has none.
func (s *Scale) SendCommand(ctx context.Context, request []byte, responseLen int) ([]byte, error) {
	if !s.link.IsOpen() {
		return nil, link.ErrPortClosed
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
		defer cancel()
	}

	s.exchange.Lock()
	defer s.exchange.Unlock()

	if err := s.link.DiscardInput(); err != nil {
		return nil, fmt.Errorf("failed to discard input: %w", err)
	}
	if _, err := s.link.Write(request); err != nil {
		return nil, err
	}

	response := make([]byte, 0, max(responseLen, 0))
	buf := make([]byte, max(responseLen, 0))
	for len(response) < responseLen {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return response, fmt.Errorf("%w: received %d of %d bytes: %w", ErrCommandTimeout, len(response), responseLen, err)
			}
			return response, err
		}

		n, err := s.link.Read(buf[:responseLen-len(response)])
		response = append(response, buf[:n]...)
		if err != nil && !errors.Is(err, link.ErrTimeout) {
			return response, fmt.Errorf("failed to read response: %w", err)
		}
	}

	s.logger.Debugf("command %x answered with %x", request, response)

	return response, nil
}
