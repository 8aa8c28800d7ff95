package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/airbrake/gobrake/v5"
	"github.com/turbot/tailpipe-firehose-processor/rate_limiter"
)

const defaultAirbrakeHost = "https://api.airbrake.io"

type AirbrakeConfig struct {
	ProjectID   string
	APIKey      string
	Environment string
	// Host defaults to the hosted service
	Host string
}

// AirbrakeSink sends notices to Airbrake, paced by an optional limiter
type AirbrakeSink struct {
	notifier *gobrake.Notifier
	limiter  *rate_limiter.APILimiter
}

func NewAirbrakeSink(config AirbrakeConfig, client *http.Client, limiter *rate_limiter.APILimiter) (*AirbrakeSink, error) {
	if config.ProjectID == "" || config.APIKey == "" {
		return nil, fmt.Errorf("airbrake project id and api key must both be set")
	}
	projectID, err := strconv.ParseInt(config.ProjectID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid airbrake project id %q: %w", config.ProjectID, err)
	}
	if config.Host == "" {
		config.Host = defaultAirbrakeHost
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	n := gobrake.NewNotifierWithOptions(&gobrake.NotifierOptions{
		ProjectId:           projectID,
		ProjectKey:          config.APIKey,
		Environment:         config.Environment,
		Host:                config.Host,
		HTTPClient:          client,
		DisableRemoteConfig: true,
	})
	return &AirbrakeSink{notifier: n, limiter: limiter}, nil
}

func (s *AirbrakeSink) Send(ctx context.Context, message string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		defer s.limiter.Release()
	}

	notice := s.notifier.Notice(errors.New(message), nil, 0)
	notice.Errors[0].Type = "error"
	if _, err := s.notifier.SendNotice(notice); err != nil {
		// gobrake reports both 420 (account) and 429 (IP) limits as "... rate limited"
		if strings.Contains(err.Error(), "rate limited") {
			return fmt.Errorf("%w: %s", ErrRateLimited, err)
		}
		return fmt.Errorf("airbrake notice failed: %w", err)
	}
	return nil
}
