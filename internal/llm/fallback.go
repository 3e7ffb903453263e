package llm

import (
	"context"

	"github.com/wolfman30/dental-scheduling-assistant/pkg/logging"
)

// FallbackClient retries a failed completion once on a secondary provider.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *logging.Logger
}

// NewFallbackClient wraps primary. A nil fallback disables the retry.
func NewFallbackClient(primary, fallback Client, logger *logging.Logger) *FallbackClient {
	if primary == nil {
		panic("llm: primary client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return Response{}, fallbackErr
	}
	c.logger.Info("fallback LLM succeeded after primary failure")
	return fallbackResp, nil
}
