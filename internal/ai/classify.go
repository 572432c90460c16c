package ai

import (
	"context"
	"errors"
	"net"
)

// Classify maps transport-level provider errors to the package sentinels so
// callers can switch on them without knowing which provider is configured.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.Join(ErrInferenceTimeout, err)
		}
		return errors.Join(ErrProviderUnavailable, err)
	}

	return err
}
