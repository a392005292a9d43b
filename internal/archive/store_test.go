package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client records PutObject/GetObject calls.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	putErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey: key not found")
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func TestStoreArchive(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	now := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	record := &SessionRecord{
		Version:      "1.0",
		SessionID:    "sess-123",
		ClinicID:     "clinic-1",
		UserHash:     HashPhone("+15551234567"),
		Channel:      "whatsapp",
		Outcome:      "idle_timeout",
		Summary:      "Patient asked about botox pricing; nothing was booked.",
		ArchivedAt:   now,
		MessageCount: 2,
		Messages: []TranscriptMessage{
			{Role: "user", Content: "how much is botox", CreatedAt: now},
			{Role: "assistant", Content: "From $12 per unit.", CreatedAt: now},
		},
	}

	err := store.Archive(context.Background(), record)
	require.NoError(t, err)

	// transcript + manifest
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "sessions/v1/by-date/2026/03/12/sess-123.json", mock.putCalls[0].key)

	var decoded SessionRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "sess-123", decoded.SessionID)
	assert.Len(t, decoded.Messages, 2)

	assert.Equal(t, "sessions/v1/manifests/2026-03.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "sess-123", entry.SessionID)
	assert.Equal(t, "idle_timeout", entry.Outcome)
}

func TestStoreDisabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())

	err := store.Archive(context.Background(), &SessionRecord{SessionID: "sess-1"})
	assert.NoError(t, err)
}

func TestStoreManifestAccumulates(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	now := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	for _, id := range []string{"sess-1", "sess-2"} {
		record := &SessionRecord{SessionID: id, ClinicID: "clinic-1", ArchivedAt: now}
		require.NoError(t, store.Archive(context.Background(), record))
	}

	manifest := mock.objects["sessions/v1/manifests/2026-03.jsonl"]
	lines := bytes.Split(bytes.TrimSpace(manifest), []byte("\n"))
	require.Len(t, lines, 2)

	var second ManifestEntry
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "sess-2", second.SessionID)
}

func TestStorePutErrorSurfaces(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("AccessDenied")
	store := NewStore(mock, "test-bucket", nil)

	err := store.Archive(context.Background(), &SessionRecord{SessionID: "sess-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 put")
}
