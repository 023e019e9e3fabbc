package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcjson"
)

// ErrMissingCredentials is returned by New when the chain rpc user or
// password is absent. Credentials are supplied out of band; their absence is
// a configuration error that aborts before any job work, not a per-call
// failure.
var ErrMissingCredentials = errors.New("chain rpc credentials are not configured")

// Client is a JSON-RPC client for the chain node. It is the only path through
// which the engine touches the ledger: utxo lookup, raw transaction assembly,
// signing, broadcast and status queries.
type Client struct {
	url      string
	user     string
	password string

	tlsSkipVerify bool
	cert          string
	timeout       time.Duration
}

// Options holds the configuration of a Client.
type Options struct {
	url           string
	user          string
	password      string
	tlsSkipVerify bool
	cert          string
	timeout       time.Duration
}

type Option func(*Options)

func WithClientHost(url string) Option {
	return func(o *Options) {
		o.url = url
	}
}

func WithClientUser(user string) Option {
	return func(o *Options) {
		o.user = user
	}
}

func WithClientPassword(password string) Option {
	return func(o *Options) {
		o.password = password
	}
}

func WithClientCert(cert string) Option {
	return func(o *Options) {
		o.cert = cert
	}
}

func WithTLSSkipVerify(skip bool) Option {
	return func(o *Options) {
		o.tlsSkipVerify = skip
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.timeout = d
	}
}

// NewClient creates a chain rpc client. Missing basic-auth credentials are
// fatal here so no job ever starts against an unauthenticated node.
func NewClient(opts ...Option) (*Client, error) {
	options := &Options{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(options)
	}
	if options.user == "" || options.password == "" {
		return nil, ErrMissingCredentials
	}
	if options.url == "" {
		return nil, errors.New("chain rpc url is empty")
	}
	return &Client{
		url:           options.url,
		user:          options.user,
		password:      options.password,
		tlsSkipVerify: options.tlsSkipVerify,
		cert:          options.cert,
		timeout:       options.timeout,
	}, nil
}

// SendRequest performs one JSON-RPC call and unmarshals the result into
// result. Node-side errors come back as *btcjson.RPCError.
func (c *Client) SendRequest(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	req, err := btcjson.NewRequest(btcjson.RpcVersion2, 1, method, params)
	if err != nil {
		return fmt.Errorf("%s command: %v", method, err)
	}
	marshalledJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bodyReader := bytes.NewReader(marshalledJSON)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bodyReader)
	if err != nil {
		return err
	}
	httpRequest.Close = true
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.SetBasicAuth(c.user, c.password)
	httpClient, err := c.newHTTPClient()
	if err != nil {
		return err
	}
	httpResponse, err := httpClient.Do(httpRequest)
	if err != nil {
		return err
	}

	respBytes, err := io.ReadAll(httpResponse.Body)
	_ = httpResponse.Body.Close()
	if err != nil {
		return fmt.Errorf("error reading json reply: %v", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		if len(respBytes) == 0 {
			return fmt.Errorf("%d %s", httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode))
		}
		return fmt.Errorf("%s", respBytes)
	}
	resp := &Response{
		Result: result,
	}
	if err := json.Unmarshal(respBytes, resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// newHTTPClient returns a new HTTP client that is configured according to the
// TLS settings in the associated connection configuration.
func (c *Client) newHTTPClient() (*http.Client, error) {
	var tlsConfig *tls.Config
	if c.cert != "" {
		pem, err := os.ReadFile(c.cert)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pem)
		tlsConfig = &tls.Config{
			RootCAs:            pool,
			InsecureSkipVerify: c.tlsSkipVerify,
		}
	}

	client := http.Client{}
	if tlsConfig != nil {
		client.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}
	return &client, nil
}
