package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"query-enhancements/internal/domain"
)

// defaultSigV4Service is the signing name of managed OpenSearch domains.
const defaultSigV4Service = "es"

var _ Client = (*DataSourceClient)(nil)

// DataSourceClient is bound to one stored data source and applies that data
// source's authentication to every call.
type DataSourceClient struct {
	id      string
	caller  httpCaller
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	auth    domain.AuthType
	dsCreds domain.Credentials
	now     func() time.Time
}

// NewDataSourceClient creates a client for ds.
func NewDataSourceClient(ds *domain.DataSource, hc *http.Client) *DataSourceClient {
	if hc == nil {
		hc = NewHTTPClient(0)
	}
	c := &DataSourceClient{
		id:      ds.ID,
		auth:    ds.AuthType,
		dsCreds: ds.Credentials,
		now:     time.Now,
	}
	if ds.AuthType == domain.AuthTypeSigV4 {
		c.creds = credentials.NewStaticCredentialsProvider(
			ds.Credentials.AccessKeyID,
			ds.Credentials.SecretAccessKey,
			"",
		)
		c.signer = v4.NewSigner()
	}
	c.caller = httpCaller{baseURL: ds.Endpoint, http: hc, authorize: c.authorize}
	return c
}

// ID returns the data source id the client is bound to.
func (c *DataSourceClient) ID() string { return c.id }

// Call implements Client.
func (c *DataSourceClient) Call(ctx context.Context, endpoint string, params Params) (json.RawMessage, error) {
	return c.caller.call(ctx, endpoint, params)
}

// Ping checks that the data source answers an authenticated root request.
func (c *DataSourceClient) Ping(ctx context.Context) error {
	if _, err := c.Call(ctx, EndpointRawRequest, Params{Method: http.MethodGet, Path: "/"}); err != nil {
		return fmt.Errorf("ping data source %s: %w", c.id, err)
	}
	return nil
}

func (c *DataSourceClient) authorize(ctx context.Context, req *http.Request, body []byte) error {
	switch c.auth {
	case domain.AuthTypeUsernamePassword:
		req.SetBasicAuth(c.dsCreds.Username, c.dsCreds.Password)
	case domain.AuthTypeSigV4:
		return c.sign(ctx, req, body)
	}
	return nil
}

func (c *DataSourceClient) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve sigv4 credentials: %w", err)
	}
	digest := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(digest[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	service := c.dsCreds.Service
	if service == "" {
		service = defaultSigV4Service
	}
	return c.signer.SignHTTP(ctx, creds, req, payloadHash, service, c.dsCreds.Region, c.now())
}
