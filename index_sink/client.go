package index_sink

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/elastic/go-elasticsearch/v8"
)

type ClientConfig struct {
	Addresses []string
	Username  string
	Password  string
	// Transport defaults to http.DefaultTransport
	Transport http.RoundTripper
	// if set, requests are signed with SigV4 for an AWS hosted domain
	AWS *aws.Config
}

// NewClient builds an Elasticsearch client. Retries are left to the Sink.
func NewClient(cfg ClientConfig) (*elasticsearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("no elasticsearch address configured")
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.AWS != nil {
		transport = NewSigningTransport(transport, *cfg.AWS)
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

// SigningTransport signs each request with the AWS credentials of an aws.Config
type SigningTransport struct {
	base   http.RoundTripper
	creds  aws.CredentialsProvider
	region string
	signer *v4.Signer
	now    func() time.Time
}

func NewSigningTransport(base http.RoundTripper, cfg aws.Config) *SigningTransport {
	return &SigningTransport{
		base:   base,
		creds:  cfg.Credentials,
		region: cfg.Region,
		signer: v4.NewSigner(),
		now:    time.Now,
	}
}

func (t *SigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for signing: %w", err)
		}
	}

	// RoundTrippers must not modify the caller's request
	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))

	if t.creds == nil {
		return nil, fmt.Errorf("no AWS credentials to sign request")
	}
	creds, err := t.creds.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	hash := sha256.Sum256(body)
	if err := t.signer.SignHTTP(req.Context(), creds, signed, hex.EncodeToString(hash[:]), "es", t.region, t.now()); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return t.base.RoundTrip(signed)
}
