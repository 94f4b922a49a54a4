package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/ir"
)

// stateDocument is the persisted layout of the remote backend: a
// versioned document mapping resource identity to record.
type stateDocument struct {
	Version int                   `json:"version"`
	Lineage string                `json:"lineage"`
	Serial  int64                 `json:"serial"`
	Records map[string]*ir.Record `json:"records"`
}

// S3Store keeps the full state document in one S3 object, with
// optional DynamoDB conditional-put locking. Record operations mutate
// an in-memory snapshot under a mutex and flush the whole document on
// every write; the object put is atomic, so readers never observe a
// partial record.
type S3Store struct {
	mu  sync.Mutex
	doc *stateDocument

	bucket        string
	key           string
	dynamoDBTable string
	sseEncrypt    bool

	s3Client *s3.Client
	dbClient *dynamodb.Client
	lockID   string
}

// OpenS3 builds the remote backend from option strings (bucket, key,
// region, dynamodb_table, profile, sse).
func OpenS3(ctx context.Context, options map[string]string) (*S3Store, error) {
	bucket := options["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket'")
	}
	key := options["key"]
	if key == "" {
		key = "loom/state.json"
	}
	region := options["region"]
	if region == "" {
		region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if profile := options["profile"]; profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	st := &S3Store{
		bucket:        bucket,
		key:           key,
		dynamoDBTable: options["dynamodb_table"],
		sseEncrypt:    options["sse"] == "true",
		s3Client:      s3.NewFromConfig(cfg),
	}
	if st.dynamoDBTable != "" {
		st.dbClient = dynamodb.NewFromConfig(cfg)
	}

	if err := st.load(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *S3Store) load(ctx context.Context) error {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			s.doc = &stateDocument{
				Version: ir.StateVersion,
				Lineage: uuid.NewString(),
				Records: make(map[string]*ir.Record),
			}
			return nil
		}
		return fmt.Errorf("failed to read state from s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("failed to read S3 object body: %w", err)
	}
	plain, err := DecryptPayload(raw)
	if err != nil {
		return err
	}

	var doc stateDocument
	if err := json.Unmarshal(plain, &doc); err != nil {
		return fmt.Errorf("failed to parse remote state: %w", err)
	}
	if doc.Version > ir.StateVersion {
		return fmt.Errorf("remote state version %d is newer than supported %d", doc.Version, ir.StateVersion)
	}
	if doc.Records == nil {
		doc.Records = make(map[string]*ir.Record)
	}
	s.doc = &doc
	return nil
}

// flush writes the whole document back to S3; callers hold s.mu.
func (s *S3Store) flush(ctx context.Context) error {
	s.doc.Serial++
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state document: %w", err)
	}
	payload, err := EncryptPayload(raw)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(payload),
	}
	if s.sseEncrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		s.doc.Serial--
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, addr ir.Identity) (*ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Records[addr.String()]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *S3Store) Put(ctx context.Context, rec *ir.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.doc.Records[rec.Identity.String()]
	if err := checkSerial(rec.Identity, stored, rec.Serial); err != nil {
		return err
	}

	next := *rec
	next.Serial = rec.Serial + 1
	next.SchemaVersion = ir.StateVersion
	prev, had := s.doc.Records[rec.Identity.String()]
	s.doc.Records[rec.Identity.String()] = &next

	if err := s.flush(ctx); err != nil {
		if had {
			s.doc.Records[rec.Identity.String()] = prev
		} else {
			delete(s.doc.Records, rec.Identity.String())
		}
		return err
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, addr ir.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.doc.Records[addr.String()]
	if !had {
		return nil
	}
	delete(s.doc.Records, addr.String())
	if err := s.flush(ctx); err != nil {
		s.doc.Records[addr.String()] = prev
		return err
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]*ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*ir.Record, 0, len(s.doc.Records))
	for _, rec := range s.doc.Records {
		cp := *rec
		records = append(records, &cp)
	}
	return records, nil
}

// Lock acquires a DynamoDB conditional-put lock when a table is
// configured; without one the backend runs unlocked.
func (s *S3Store) Lock(ctx context.Context) error {
	if s.dbClient == nil {
		return nil
	}

	s.lockID = fmt.Sprintf("loom-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: s.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ConditionalCheckFailedException") {
			return fmt.Errorf("state is locked by another process; if this is an error, "+
				"delete the item with LockID=%q from DynamoDB table %q", s.key, s.dynamoDBTable)
		}
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	return nil
}

func (s *S3Store) Unlock(ctx context.Context) error {
	if s.dbClient == nil {
		return nil
	}
	_, err := s.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release state lock: %w", err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }
