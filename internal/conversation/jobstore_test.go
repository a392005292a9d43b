package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/brightline-ai/concierge/pkg/logging"
)

func TestJobStorePutPendingPersistsDefaults(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "turn_jobs", logging.Default())

	job := &TurnJobRecord{
		JobID:    "job-123",
		Instance: "glow-main",
		From:     "+15550001111",
		Text:     "hi",
	}
	if err := store.PutPending(context.Background(), job); err != nil {
		t.Fatalf("PutPending returned error: %v", err)
	}

	if mock.putInput == nil {
		t.Fatal("expected PutItem to be called")
	}

	var stored TurnJobRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored job: %v", err)
	}
	if stored.Status != JobStatusPending {
		t.Fatalf("expected pending status, got %s", stored.Status)
	}
	if stored.CreatedAt == "" || stored.UpdatedAt == "" {
		t.Fatal("expected timestamps to be populated")
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected TTL in the future")
	}

	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(jobId)" {
		t.Fatalf("expected overwrite guard, got %v", expr)
	}
}

func TestJobStorePutPendingNilJob(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "turn_jobs", logging.Default())
	if err := store.PutPending(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil job")
	}
}

func TestJobStoreMarkCompletedAliasesReservedNames(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "turn_jobs", logging.Default())

	result := &TurnResult{
		SessionID: "sess-1",
		Reply:     "see you tomorrow!",
		Language:  LangEN,
		Lane:      LaneScheduling,
		Escalated: false,
	}
	if err := store.MarkCompleted(context.Background(), "job-123", result); err != nil {
		t.Fatalf("MarkCompleted returned error: %v", err)
	}

	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected 1 update, got %d", len(mock.updateInputs))
	}
	update := mock.updateInputs[0]

	names := update.ExpressionAttributeNames
	if names["#status"] != "status" || names["#language"] != "language" || names["#error"] != "errorMessage" {
		t.Fatalf("expected reserved names aliased, got %v", names)
	}

	values := update.ExpressionAttributeValues
	if status := values[":status"].(*types.AttributeValueMemberS).Value; status != string(JobStatusCompleted) {
		t.Fatalf("expected completed status, got %s", status)
	}
	if reply := values[":reply"].(*types.AttributeValueMemberS).Value; reply != "see you tomorrow!" {
		t.Fatalf("unexpected reply value %q", reply)
	}
	if lane := values[":lane"].(*types.AttributeValueMemberS).Value; lane != string(LaneScheduling) {
		t.Fatalf("unexpected lane value %q", lane)
	}
	if cond := update.ConditionExpression; cond == nil || *cond != "attribute_exists(jobId)" {
		t.Fatalf("expected existence guard, got %v", cond)
	}
}

func TestJobStoreMarkFailedNullsReply(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "turn_jobs", logging.Default())

	if err := store.MarkFailed(context.Background(), "job-123", "boom"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	update := mock.updateInputs[0]
	if _, ok := update.ExpressionAttributeValues[":reply"].(*types.AttributeValueMemberNULL); !ok {
		t.Fatalf("expected reply NULL, got %T", update.ExpressionAttributeValues[":reply"])
	}
	if msg := update.ExpressionAttributeValues[":error"].(*types.AttributeValueMemberS).Value; msg != "boom" {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestJobStoreMarkCompletedPropagatesError(t *testing.T) {
	mock := &mockDynamo{updateErr: errors.New("dynamo failed")}
	store := NewJobStore(mock, "turn_jobs", logging.Default())

	err := store.MarkCompleted(context.Background(), "job-1", &TurnResult{})
	if err == nil || !strings.Contains(err.Error(), "dynamo failed") {
		t.Fatalf("expected dynamo error, got %v", err)
	}
}

func TestJobStoreGetJob(t *testing.T) {
	mock := &mockDynamo{
		getOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"jobId":  &types.AttributeValueMemberS{Value: "job-42"},
				"status": &types.AttributeValueMemberS{Value: string(JobStatusPending)},
			},
		},
	}
	store := NewJobStore(mock, "turn_jobs", logging.Default())

	job, err := store.GetJob(context.Background(), "job-42")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if job.JobID != "job-42" || job.Status != JobStatusPending {
		t.Fatalf("unexpected job %#v", job)
	}
}

func TestJobStoreGetJobNotFound(t *testing.T) {
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{}}
	store := NewJobStore(mock, "turn_jobs", logging.Default())

	if _, err := store.GetJob(context.Background(), "job-42"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreGetJobEmptyID(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "turn_jobs", logging.Default())
	if _, err := store.GetJob(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getOutput    *dynamodb.GetItemOutput
	getErr       error
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}
