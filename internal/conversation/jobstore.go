package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brightline-ai/concierge/pkg/logging"
)

const jobTTL = 24 * time.Hour

// JobStatus represents the lifecycle of one inbound turn job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("conversation: job not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// TurnJobRecord is the persisted state of one inbound turn, queryable by
// the API while the worker chews on it and for a day afterwards.
type TurnJobRecord struct {
	JobID             string    `dynamodbav:"jobId" json:"jobId"`
	Status            JobStatus `dynamodbav:"status" json:"status"`
	Instance          string    `dynamodbav:"instance" json:"instance"`
	From              string    `dynamodbav:"from" json:"from"`
	Text              string    `dynamodbav:"text" json:"text"`
	ProviderMessageID string    `dynamodbav:"providerMessageId,omitempty" json:"providerMessageId,omitempty"`
	SessionID         string    `dynamodbav:"sessionId,omitempty" json:"sessionId,omitempty"`
	Reply             string    `dynamodbav:"reply,omitempty" json:"reply,omitempty"`
	Language          string    `dynamodbav:"language,omitempty" json:"language,omitempty"`
	Lane              string    `dynamodbav:"lane,omitempty" json:"lane,omitempty"`
	Escalated         bool      `dynamodbav:"escalated" json:"escalated"`
	ErrorMessage      string    `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt         string    `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt         string    `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt         int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobRecorder is the producer-side slice of the store.
type JobRecorder interface {
	PutPending(ctx context.Context, job *TurnJobRecord) error
	GetJob(ctx context.Context, jobID string) (*TurnJobRecord, error)
}

// JobUpdater is the worker-side slice of the store.
type JobUpdater interface {
	MarkCompleted(ctx context.Context, jobID string, result *TurnResult) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
}

// JobStore persists turn job records to DynamoDB.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ JobRecorder = (*JobStore)(nil)
var _ JobUpdater = (*JobStore)(nil)

// NewJobStore builds a store backed by the provided DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &JobStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a new pending job record.
func (s *JobStore) PutPending(ctx context.Context, job *TurnJobRecord) error {
	if job == nil {
		return errors.New("conversation: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted records the turn's outcome on the job.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, result *TurnResult) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	if result == nil {
		result = &TurnResult{}
	}

	return s.updateJob(
		ctx,
		jobID,
		map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: string(JobStatusCompleted)},
			":reply":     &types.AttributeValueMemberS{Value: result.Reply},
			":session":   &types.AttributeValueMemberS{Value: result.SessionID},
			":language":  &types.AttributeValueMemberS{Value: result.Language},
			":lane":      &types.AttributeValueMemberS{Value: string(result.Lane)},
			":escalated": &types.AttributeValueMemberBOOL{Value: result.Escalated},
			":error":     &types.AttributeValueMemberS{Value: ""},
			":updated":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":   "status",
			"#language": "language",
			"#error":    "errorMessage",
			"#updated":  "updatedAt",
		},
		"SET #status = :status, reply = :reply, sessionId = :session, #language = :language, lane = :lane, escalated = :escalated, #error = :error, #updated = :updated",
	)
}

// MarkFailed updates a job to the failed state.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	return s.updateJob(
		ctx,
		jobID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
			":reply":   &types.AttributeValueMemberNULL{Value: true},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		"SET #status = :status, reply = :reply, #error = :error, #updated = :updated",
	)
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*TurnJobRecord, error) {
	if jobID == "" {
		return nil, errors.New("conversation: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job TurnJobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) updateJob(ctx context.Context, jobID string, values map[string]types.AttributeValue, names map[string]string, expression string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to update job %s: %w", jobID, err)
	}
	return nil
}
