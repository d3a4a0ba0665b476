package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/chamfer/store"
)

// DDBClient is the subset of the DynamoDB API the commit log uses.
// *dynamodb.Client satisfies it.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoCommitLog implements store.CommitLog on a DynamoDB table. Unlike
// the blob-backed log, its conditional writes make concurrent commits safe:
// when two writers race for the same version, exactly one wins and the
// other gets store.ErrConcurrentCommit.
//
// The table is keyed by base_uri (partition, S) and version (sort, N); the
// payload is stored as a binary attribute alongside.
type DynamoCommitLog struct {
	client    DDBClient
	table     string
	namespace string
}

var _ store.CommitLog = (*DynamoCommitLog)(nil)

// NewDynamoCommitLog creates a commit log in table, namespaced by
// namespace (typically the dataset's base URI, e.g. "s3://bucket/prefix/").
func NewDynamoCommitLog(client DDBClient, table, namespace string) *DynamoCommitLog {
	return &DynamoCommitLog{
		client:    client,
		table:     table,
		namespace: namespace,
	}
}

// Latest implements store.CommitLog.
func (l *DynamoCommitLog) Latest(ctx context.Context) (uint64, []byte, error) {
	out, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":uri": &ddbtypes.AttributeValueMemberS{Value: l.namespace},
		},
		// Newest version first.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("s3: query commit log: %w", err)
	}
	if len(out.Items) == 0 {
		return 0, nil, nil
	}

	item := out.Items[0]

	versionAttr, ok := item["version"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return 0, nil, fmt.Errorf("s3: commit item missing version attribute")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("s3: parse commit version %q: %w", versionAttr.Value, err)
	}

	payloadAttr, ok := item["payload"].(*ddbtypes.AttributeValueMemberB)
	if !ok {
		return 0, nil, fmt.Errorf("s3: commit item missing payload attribute")
	}

	return version, payloadAttr.Value, nil
}

// Commit implements store.CommitLog.
func (l *DynamoCommitLog) Commit(ctx context.Context, payload []byte) (uint64, error) {
	current, _, err := l.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]ddbtypes.AttributeValue{
			"base_uri": &ddbtypes.AttributeValueMemberS{Value: l.namespace},
			"version":  &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"payload":  &ddbtypes.AttributeValueMemberB{Value: payload},
		},
		// Only the first writer to claim a version succeeds.
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, store.ErrConcurrentCommit
		}
		return 0, fmt.Errorf("s3: put commit %d: %w", next, err)
	}

	return next, nil
}
