// Package s3 implements the "s3" driver: JSON documents stored as objects
// in an S3 compatible bucket.
package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// Name is the registered driver name.
const Name = "s3"

// Config is the parsed service configuration.
type Config struct {
	Host      string
	Secure    bool
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// ParseConfig reads the endpoint and options of a service configuration.
// The endpoint may be a bare host:port or a URL; an https URL implies
// secure transport.
func ParseConfig(cfg ir.ServiceConfig) (*Config, error) {
	c := &Config{
		Secure:    driver.BoolOption(cfg, "secure", false),
		Region:    driver.StringOption(cfg, "", "region"),
		Bucket:    driver.StringOption(cfg, "", "bucket"),
		Prefix:    driver.StringOption(cfg, "", "prefix"),
		AccessKey: driver.StringOption(cfg, "", "access_key", "access_key_id"),
		SecretKey: driver.StringOption(cfg, "", "secret_key", "secret_access_key"),
	}

	endpoint := cfg.EndpointValue()
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		c.Host = u.Host
		if u.Scheme == "https" {
			c.Secure = true
		}
	} else {
		c.Host = endpoint
	}
	if c.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if c.Bucket == "" {
		return nil, fmt.Errorf("option bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return nil, fmt.Errorf("options access_key and secret_key are required")
	}
	return c, nil
}

// ObjectKey joins the configured prefix and a fetch method.
func (c *Config) ObjectKey(method string) string {
	method = strings.TrimPrefix(method, "/")
	if c.Prefix == "" {
		return method
	}
	return strings.TrimSuffix(c.Prefix, "/") + "/" + method
}

// Driver reads objects from one bucket.
type Driver struct {
	cfg    *Config
	client *minio.Client
}

// New creates a minio client for the configured endpoint. No request is
// made until the first fetch.
func New(cfg ir.ServiceConfig) (*Driver, error) {
	c, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(c.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: c.Secure,
		Region: c.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Driver{cfg: c, client: client}, nil
}

// Fetch downloads the object named by req.Method and selects records at
// req.StartPoint.
func (d *Driver) Fetch(ctx context.Context, req driver.FetchRequest) ([]ir.Record, error) {
	if req.Method == "" {
		return nil, driver.NewFetchError(Name, req.Method, fmt.Errorf("object key is required"))
	}
	key := d.cfg.ObjectKey(req.Method)

	obj, err := d.client.GetObject(ctx, d.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, classify(err))
	}
	defer obj.Close()

	doc, err := driver.DecodeJSON(obj)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, classify(err))
	}
	records, err := driver.Select(doc, req.StartPoint)
	if err != nil {
		return nil, driver.NewFetchError(Name, req.Method, err)
	}
	return records, nil
}

// classify turns minio error responses into readable errors. Decoding
// errors wrap the transport error, so the original is kept as cause.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return fmt.Errorf("object not found: %w", err)
	case "NoSuchBucket":
		return fmt.Errorf("bucket not found: %w", err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("access denied: %w", err)
	default:
		return err
	}
}
