package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserMissing     = errors.New("user does not exist")
	ErrOTPNotActive    = errors.New("OTP is no longer active")
	ErrConcurrentIssue = errors.New("concurrent OTP issuance")
)

// DynamoDB transactions accept at most 100 actions.
const maxTransactItems = 100

// DynamoDBAPI is the subset of the DynamoDB client used by the repositories.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func userPK(userID string) string {
	return "USER#" + userID
}

func emailPK(email string) string {
	return "EMAIL#" + email
}

func otpPK(userID, purpose string) string {
	return fmt.Sprintf("OTP#%s#%s", userID, purpose)
}

// otpSK sorts records of a partition by creation time.
func otpSK(createdAtNanos int64, id string) string {
	return fmt.Sprintf("%s%020d#%s", otpSKPrefix, createdAtNanos, id)
}

const (
	profileSK   = "PROFILE"
	emailSK     = "EMAIL"
	otpSKPrefix = "CODE#"
	activeSK    = "ACTIVE"
)

// isConditionFailure reports whether err is a failed condition, either on a
// single write or inside a cancelled transaction.
func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if reason.Code != nil && (*reason.Code == "ConditionalCheckFailed" || *reason.Code == "TransactionConflict") {
				return true
			}
		}
	}
	return false
}
