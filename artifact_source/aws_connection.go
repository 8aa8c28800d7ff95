package artifact_source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/dnscache"
	"golang.org/x/sync/semaphore"
)

const defaultRegion = "us-east-1"

// AwsConnection holds the credentials and SDK tuning shared by the S3, Firehose and CloudWatch clients
type AwsConnection struct {
	Region                *string `hcl:"region"`
	Profile               *string `hcl:"profile"`
	AccessKey             *string `hcl:"access_key"`
	SecretKey             *string `hcl:"secret_key"`
	SessionToken          *string `hcl:"session_token"`
	MaxErrorRetryAttempts *int    `hcl:"max_error_retry_attempts"`
	MinErrorRetryDelay    *int    `hcl:"min_error_retry_delay"`
	EndpointUrl           *string `hcl:"endpoint_url"`
}

func (c *AwsConnection) Validate() error {
	if c.AccessKey != nil && c.SecretKey == nil {
		return fmt.Errorf("access_key set without secret_key")
	}
	if c.AccessKey == nil && c.SecretKey != nil {
		return fmt.Errorf("secret_key set without access_key")
	}
	if c.MinErrorRetryDelay != nil && *c.MinErrorRetryDelay < 1 {
		return fmt.Errorf("min_error_retry_delay must be greater than or equal to 1")
	}
	if c.MaxErrorRetryAttempts != nil && *c.MaxErrorRetryAttempts < 1 {
		return fmt.Errorf("max_error_retry_attempts must be greater than or equal to 1")
	}
	return nil
}

// GetClientConfiguration loads the SDK config. overrideRegion, if set, takes precedence over the
// configured and environment regions - the Firehose handler uses the region of the delivery stream ARN.
func (c *AwsConnection) GetClientConfiguration(ctx context.Context, overrideRegion *string) (*aws.Config, error) {
	var configOptions []func(*config.LoadOptions) error

	if c.Profile != nil {
		configOptions = append(configOptions, config.WithSharedConfigProfile(aws.ToString(c.Profile)))
	}

	if c.AccessKey != nil && c.SecretKey != nil {
		provider := credentials.NewStaticCredentialsProvider(aws.ToString(c.AccessKey), aws.ToString(c.SecretKey), aws.ToString(c.SessionToken))
		configOptions = append(configOptions, config.WithCredentialsProvider(provider))
	}

	configOptions = append(configOptions, config.WithHTTPClient(sharedHTTPClient))

	if endpointUrl := getConfigOrEnv(c.EndpointUrl, "AWS_ENDPOINT_URL"); endpointUrl != "" {
		configOptions = append(configOptions, config.WithBaseEndpoint(endpointUrl))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}

	switch {
	case overrideRegion != nil:
		cfg.Region = *overrideRegion
	case c.Region != nil:
		cfg.Region = *c.Region
	case cfg.Region == "":
		cfg.Region = defaultRegion
	}

	maxRetries := getConfigOrEnvInt(c.MaxErrorRetryAttempts, "AWS_MAX_ATTEMPTS", 9)
	minRetryDelay := 25 * time.Millisecond
	if c.MinErrorRetryDelay != nil {
		minRetryDelay = time.Duration(*c.MinErrorRetryDelay) * time.Millisecond
	}

	retryer := retry.NewStandard(func(o *retry.StandardOptions) {
		o.MaxAttempts = maxRetries
		o.MaxBackoff = 5 * time.Minute
		o.RateLimiter = NoOpRateLimit{}
		o.Backoff = NewExponentialJitterBackoff(minRetryDelay, maxRetries)
	})
	cfg.Retryer = func() aws.Retryer {
		// UnknownError is the code returned for a 408
		return retry.AddWithErrorCodes(retryer, "UnknownError")
	}

	return &cfg, nil
}

func getConfigOrEnv(configValue *string, env string) string {
	if configValue != nil {
		return *configValue
	}
	return os.Getenv(env)
}

func getConfigOrEnvInt(configValue *int, env string, defaultValue int) int {
	if configValue != nil {
		return *configValue
	}
	return readEnvVarToInt(env, defaultValue)
}

// A single HTTP client shared by every AWS SDK client (and the Elasticsearch client), caching DNS
// lookups and bounding both parallel lookups and connections per host. A warm Lambda container keeps
// the cache between invocations.
func initializeHTTPClient() *awshttp.BuildableClient {
	// Go does not cache DNS, so every S3, Firehose and bulk request would otherwise resolve its
	// host. Lookups go through a cache, and at most this many run in parallel so a burst of
	// requests cannot flood the VPC resolver.
	dnsLookupMaxParallel := readEnvVarToInt("FIREHOSE_PROCESSOR_DNS_LOOKUP_MAX_PARALLEL", 25)

	// Unused cache entries are dropped and used ones re-resolved at this interval.
	// 0 disables the refresh, -1 disables the cache (the AWS SDK default).
	dnsCacheRefreshIntervalSecs := readEnvVarToInt("FIREHOSE_PROCESSOR_DNS_CACHE_REFRESH_INTERVAL_SECS", 300)

	// Maximum connections per host. The processor talks to few hosts (one bucket, one delivery
	// stream, one cluster), so the limit bounds open sockets rather than parallelism.
	// 0 removes the limit (the AWS SDK default).
	httpTransportMaxConnsPerHost := readEnvVarToInt("FIREHOSE_PROCESSOR_HTTP_MAX_CONNS_PER_HOST", 500)

	// the resolver refreshes itself on this schedule
	resolver := &dnscache.Resolver{}
	if dnsCacheRefreshIntervalSecs > 0 {
		go func() {
			t := time.NewTicker(time.Duration(dnsCacheRefreshIntervalSecs) * time.Second)
			defer t.Stop()
			for range t.C {
				resolver.Refresh(true)
			}
		}()
	}

	// The SDK's buildable client keeps the AWS default timeouts, only the dialer and the
	// per host limit are overridden.
	client := awshttp.NewBuildableClient()
	if httpTransportMaxConnsPerHost > 0 {
		client = client.WithTransportOptions(func(tr *http.Transport) {
			tr.MaxConnsPerHost = httpTransportMaxConnsPerHost
		})
	}

	if dnsCacheRefreshIntervalSecs >= 0 {
		sem := semaphore.NewWeighted(int64(dnsLookupMaxParallel))
		dialer := client.GetDialer()

		client = client.WithTransportOptions(func(tr *http.Transport) {
			tr.DialContext = func(ctx context.Context, network string, addr string) (conn net.Conn, err error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}

				// blocks until a lookup slot is free
				if err := sem.Acquire(ctx, 1); err != nil {
					return nil, err
				}
				// cached where possible
				ips, err := resolver.LookupHost(ctx, host)
				sem.Release(1)
				if err != nil {
					return nil, err
				}

				// dial the addresses in turn until one connects, simpler than the parallel
				// dialing net.Dialer does
				for _, ip := range ips {
					conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						break
					}
				}
				return
			}
		})
	}

	return client
}

var sharedHTTPClient = initializeHTTPClient()

// SharedTransport returns the transport of the shared HTTP client, for non AWS SDK clients
func SharedTransport() http.RoundTripper {
	return sharedHTTPClient.GetTransport()
}

// SharedHTTPClient returns a plain http.Client over the shared transport
func SharedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: SharedTransport(), Timeout: timeout}
}

func readEnvVarToInt(name string, defaultVal int) int {
	if envValue := os.Getenv(name); envValue != "" {
		if i, err := strconv.Atoi(envValue); err == nil {
			return i
		}
	}
	return defaultVal
}

// NoOpRateLimit disables the SDK's client side retry token bucket https://github.com/aws/aws-sdk-go-v2/issues/543
type NoOpRateLimit struct{}

func (NoOpRateLimit) AddTokens(uint) error { return nil }
func (NoOpRateLimit) GetToken(context.Context, uint) (func() error, error) {
	return noOpToken, nil
}
func noOpToken() error { return nil }

// ExponentialJitterBackoff provides backoff delays with jitter based on the number of attempts
type ExponentialJitterBackoff struct {
	minDelay           time.Duration
	maxBackoffAttempts int
}

func NewExponentialJitterBackoff(minDelay time.Duration, maxAttempts int) *ExponentialJitterBackoff {
	return &ExponentialJitterBackoff{minDelay, maxAttempts}
}

// BackoffDelay returns minDelay * 3^attempt, with jitter of [0.8, 1.2), capped at 5 minutes
func (j *ExponentialJitterBackoff) BackoffDelay(attempt int, err error) (time.Duration, error) {
	jitter := float64(rand.Intn(120-80)+80) / 100
	const maxDelay = 5 * time.Minute
	retryTime := maxDelay
	if delay := float64(j.minDelay.Nanoseconds()) * math.Pow(3, float64(attempt)) * jitter; delay < float64(maxDelay) {
		retryTime = time.Duration(delay)
	}

	slog.Info("BackoffDelay:", "attempt", attempt, "retry_time", retryTime.String(), "error", err)
	return retryTime, nil
}
