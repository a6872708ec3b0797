package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/glromeo/esnext-web-modules/internal/mime"
)

// S3Config configures the s3 mirror of the web_modules directory.
type S3Config struct {
	AccountId string
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
}

type s3FSDriver struct{}

// Open opens a s3 fs, the options are `region`, `endpoint`, `accountId`, `prefix` and
// `backingFS` (a fs url used as local copy of the bucket).
func (driver *s3FSDriver) Open(bucket string, options url.Values) (FS, error) {
	var backingFS FS
	if backingFSUrl := options.Get("backingFS"); backingFSUrl != "" {
		var err error
		backingFS, err = OpenFS(backingFSUrl)
		if err != nil {
			return nil, err
		}
	}
	client, err := newS3Client(&S3Config{
		AccountId: options.Get("accountId"),
		Bucket:    bucket,
		Region:    options.Get("region"),
		Endpoint:  options.Get("endpoint"),
		Prefix:    options.Get("prefix"),
	})
	if err != nil {
		return nil, err
	}
	return &s3FS{client: client, backingFS: backingFS}, nil
}

type s3Client struct {
	config     *S3Config
	client     *s3.Client
	downloader *s3manager.Downloader
	uploader   *s3manager.Uploader
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

func newS3Client(config *S3Config) (*s3Client, error) {
	if config.Bucket == "" {
		bucket, found := lookupEnv("S3_BUCKET")
		if !found {
			return nil, errors.New("s3: bucket not provided and cannot not be derived by environment")
		}
		config.Bucket = bucket
	}
	if config.Region == "" {
		region, found := lookupEnv("S3_REGION", "AWS_REGION")
		if !found {
			return nil, errors.New("s3: region not provided and cannot not be derived by environment")
		}
		config.Region = region
	}
	if config.AccountId == "" {
		config.AccountId, _ = lookupEnv("S3_ACCOUNT_ID", "AWS_ACCOUNT_ID")
	}
	if config.Endpoint == "" {
		config.Endpoint, _ = lookupEnv("S3_ENDPOINT")
	}
	config.Prefix = strings.Trim(config.Prefix, "/")

	ctx := context.Background()
	httpClient := &http.Client{Timeout: 30 * time.Second}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithRegion(config.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %v", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.Region = config.Region
		if config.Endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Debugf("s3: head bucket %s (owner: %s)", config.Bucket, config.AccountId)
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket:              aws.String(config.Bucket),
		ExpectedBucketOwner: optionalString(config.AccountId),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: head bucket %s: %v", config.Bucket, err)
	}

	return &s3Client{
		config:     config,
		client:     client,
		downloader: s3manager.NewDownloader(client),
		uploader:   s3manager.NewUploader(client),
	}, nil
}

func (c *s3Client) key(name string) *string {
	if c.config.Prefix == "" {
		return aws.String(strings.TrimPrefix(name, "/"))
	}
	return aws.String(path.Join(c.config.Prefix, name))
}

func (c *s3Client) head(ctx context.Context, name string) (*s3.HeadObjectOutput, error) {
	return c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:              aws.String(c.config.Bucket),
		Key:                 c.key(name),
		ExpectedBucketOwner: optionalString(c.config.AccountId),
	})
}

func (c *s3Client) download(ctx context.Context, name string, size int64) ([]byte, error) {
	w := s3manager.NewWriteAtBuffer(make([]byte, 0, int(size)))
	_, err := c.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    c.key(name),
	})
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (c *s3Client) upload(ctx context.Context, name string, body io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         c.key(name),
		Body:        body,
		ContentType: aws.String(mime.ContentType(name)),
	})
	return err
}

type s3FS struct {
	client    *s3Client
	backingFS FS
}

func (fs *s3FS) Exists(name string) (bool, time.Time, error) {
	if fs.backingFS != nil {
		found, modtime, err := fs.backingFS.Exists(name)
		if found && err == nil {
			return true, modtime, nil
		}
	}
	output, err := fs.client.head(context.Background(), name)
	if err != nil {
		if isNotFound(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, aws.ToTime(output.LastModified), nil
}

func (fs *s3FS) ReadFile(name string) (io.ReadSeekCloser, time.Time, error) {
	if fs.backingFS != nil {
		file, modtime, err := fs.backingFS.ReadFile(name)
		if err == nil {
			return file, modtime, nil
		}
	}
	ctx := context.Background()
	output, err := fs.client.head(ctx, name)
	if err != nil {
		if isNotFound(err) {
			err = ErrNotFound
		}
		return nil, time.Time{}, err
	}
	data, err := fs.client.download(ctx, name, output.ContentLength)
	if err != nil {
		return nil, time.Time{}, err
	}
	if fs.backingFS != nil {
		if _, err := fs.backingFS.WriteFile(name, bytes.NewReader(data)); err != nil {
			log.Warnf("s3: copy %s to the backing fs: %v", name, err)
		}
	}
	return s3manager.ReadSeekCloser(bytes.NewReader(data)), aws.ToTime(output.LastModified), nil
}

func (fs *s3FS) WriteFile(name string, content io.Reader) (int64, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return 0, err
	}
	if fs.backingFS != nil {
		if _, err := fs.backingFS.WriteFile(name, bytes.NewReader(data)); err != nil {
			return 0, err
		}
	}
	err = fs.client.upload(context.Background(), name, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func init() {
	RegisterFS("s3", &s3FSDriver{})
}
