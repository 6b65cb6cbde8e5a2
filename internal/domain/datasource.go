package domain

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// AuthType selects how requests to an external data source are authenticated.
type AuthType string

// Supported data-source authentication methods.
const (
	AuthTypeNoAuth           AuthType = "no_auth"
	AuthTypeUsernamePassword AuthType = "username_password"
	AuthTypeSigV4            AuthType = "sigv4"
)

// Credentials holds the secret material for a data source. Which fields are
// used depends on the AuthType.
type Credentials struct {
	Username        string `json:"username,omitempty" yaml:"username,omitempty"`
	Password        string `json:"password,omitempty" yaml:"password,omitempty"`
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	Service         string `json:"service,omitempty" yaml:"service,omitempty"`
	AccessKeyID     string `json:"accessKey,omitempty" yaml:"access_key,omitempty"`
	SecretAccessKey string `json:"secretKey,omitempty" yaml:"secret_key,omitempty"`
}

// DataSource is a named external backend connection.
type DataSource struct {
	ID          string
	Title       string
	Description string
	Endpoint    string
	Type        string // backend flavour, e.g. "OpenSearch", "Prometheus"
	AuthType    AuthType
	Credentials Credentials
	Health      HealthStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Health check outcomes.
const (
	HealthStatusUnknown   = ""
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

// HealthStatus is the result of the most recent connectivity check.
type HealthStatus struct {
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CheckedAt *time.Time `json:"checkedAt,omitempty"`
}

// CreateDataSourceRequest holds parameters for creating a data source.
type CreateDataSourceRequest struct {
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Endpoint    string      `json:"endpoint" yaml:"endpoint"`
	Type        string      `json:"dataSourceEngineType,omitempty" yaml:"type,omitempty"`
	AuthType    AuthType    `json:"authType" yaml:"auth_type"`
	Credentials Credentials `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// UpdateDataSourceRequest holds partial-update parameters for a data source.
type UpdateDataSourceRequest struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Endpoint    *string      `json:"endpoint,omitempty"`
	AuthType    *AuthType    `json:"authType,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// ValidateCreateDataSourceRequest validates the create request.
func ValidateCreateDataSourceRequest(r CreateDataSourceRequest) error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrValidation("title is required")
	}
	if err := validateEndpoint(r.Endpoint); err != nil {
		return err
	}
	return validateAuth(r.AuthType, r.Credentials)
}

// ValidateUpdateDataSourceRequest validates the fields present on an update.
func ValidateUpdateDataSourceRequest(current *DataSource, r UpdateDataSourceRequest) error {
	if r.Title != nil && strings.TrimSpace(*r.Title) == "" {
		return ErrValidation("title must not be empty")
	}
	if r.Endpoint != nil {
		if err := validateEndpoint(*r.Endpoint); err != nil {
			return err
		}
	}
	if r.AuthType == nil && r.Credentials == nil {
		return nil
	}
	authType := current.AuthType
	if r.AuthType != nil {
		authType = *r.AuthType
	}
	creds := current.Credentials
	if r.Credentials != nil {
		creds = *r.Credentials
	}
	return validateAuth(authType, creds)
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return ErrValidation("endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ErrValidation("endpoint must be an absolute URL, got %q", endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrValidation("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func validateAuth(authType AuthType, creds Credentials) error {
	switch authType {
	case AuthTypeNoAuth:
		return nil
	case AuthTypeUsernamePassword:
		if creds.Username == "" || creds.Password == "" {
			return ErrValidation("username and password are required for %s", authType)
		}
		return nil
	case AuthTypeSigV4:
		if creds.Region == "" || creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
			return ErrValidation("region, access key and secret key are required for %s", authType)
		}
		return nil
	case "":
		return ErrValidation("authType is required")
	default:
		return ErrValidation("unsupported authType %q", authType)
	}
}

// DataSourceRepository is the saved-object store for data sources.
type DataSourceRepository interface {
	Find(ctx context.Context) ([]DataSource, error)
	Get(ctx context.Context, id string) (*DataSource, error)
	Create(ctx context.Context, ds *DataSource) (*DataSource, error)
	Update(ctx context.Context, id string, req UpdateDataSourceRequest) (*DataSource, error)
	Delete(ctx context.Context, id string) error
	RecordHealth(ctx context.Context, id string, health HealthStatus) error
}
