package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// OrphanBlob is a blob whose delete failed after its last reference row was
// removed. The reconciler retries these.
type OrphanBlob struct {
	PK         string `dynamodbav:"PK" json:"-"`
	SK         string `dynamodbav:"SK" json:"-"`
	BlobRef    string `dynamodbav:"BlobRef" json:"blob_ref"`
	Reason     string `dynamodbav:"Reason" json:"reason"`
	Source     string `dynamodbav:"Source" json:"source"`
	RecordedAt string `dynamodbav:"RecordedAt" json:"recorded_at"`
	TTL        int64  `dynamodbav:"TTL,omitempty" json:"-"`
}

// OrphanLedger records and lists orphaned blobs.
type OrphanLedger interface {
	Record(ctx context.Context, o OrphanBlob) error
	List(ctx context.Context, limit int) ([]OrphanBlob, error)
	Resolve(ctx context.Context, blobRef string) error
}

const orphanPK = "ORPHAN"

// orphanRetention bounds how long an unresolved entry is kept.
const orphanRetention = 30 * 24 * time.Hour

// DynamoLedger stores orphan entries in a DynamoDB table keyed PK/SK.
type DynamoLedger struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoLedger(client *dynamodb.Client, tableName string) *DynamoLedger {
	return &DynamoLedger{client: client, tableName: tableName}
}

func (l *DynamoLedger) Record(ctx context.Context, o OrphanBlob) error {
	now := time.Now().UTC()
	o.PK = orphanPK
	o.SK = o.BlobRef
	if o.RecordedAt == "" {
		o.RecordedAt = now.Format(time.RFC3339)
	}
	o.TTL = now.Add(orphanRetention).Unix()

	av, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshaling orphan: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("saving orphan to DynamoDB: %w", err)
	}
	return nil
}

func (l *DynamoLedger) List(ctx context.Context, limit int) ([]OrphanBlob, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: orphanPK},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	result, err := l.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("querying orphans from DynamoDB: %w", err)
	}

	var out []OrphanBlob
	for _, item := range result.Items {
		var o OrphanBlob
		if err := attributevalue.UnmarshalMap(item, &o); err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (l *DynamoLedger) Resolve(ctx context.Context, blobRef string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: orphanPK},
			"SK": &types.AttributeValueMemberS{Value: blobRef},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting orphan from DynamoDB: %w", err)
	}
	return nil
}

// MemoryLedger is an in-process OrphanLedger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]OrphanBlob
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]OrphanBlob)}
}

func (l *MemoryLedger) Record(_ context.Context, o OrphanBlob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.RecordedAt == "" {
		o.RecordedAt = time.Now().UTC().Format(time.RFC3339)
	}
	l.entries[o.BlobRef] = o
	return nil
}

func (l *MemoryLedger) List(_ context.Context, limit int) ([]OrphanBlob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]OrphanBlob, 0, len(l.entries))
	for _, o := range l.entries {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlobRef < out[j].BlobRef })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) Resolve(_ context.Context, blobRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, blobRef)
	return nil
}
