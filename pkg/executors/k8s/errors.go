package k8s

import (
	"context"
	"errors"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/atlasops/atlas/pkg/agent"
)

// mapAPIError folds a client-go error into the executor error taxonomy.
// Transient server conditions and transport failures become unreachable
// (retried once upstream); structured API rejections keep their status code
// and message. Context errors pass through so the caller can attribute
// timeouts to the per-tool deadline.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch {
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsTooManyRequests(err):
		return &agent.UnreachableError{Cause: err}
	}

	var statusErr *apierrors.StatusError
	if errors.As(err, &statusErr) {
		return &agent.APIError{
			Status: int(statusErr.ErrStatus.Code),
			Detail: statusErr.ErrStatus.Message,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &agent.UnreachableError{Cause: err}
	}

	return &agent.APIError{Detail: err.Error()}
}
