package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/sirupsen/logrus"
)

// Records stay in the table for a day after expiry before the DynamoDB TTL
// sweeper removes them.
const otpRetention = 24 * time.Hour

// OTPRepository keeps every issued code of a (user, purpose) pair in one
// partition, next to an ACTIVE pointer naming the only record that may still
// be consumed. Issuance and consumption are both transactional.
type OTPRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewOTPRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *OTPRepository {
	return &OTPRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type otpItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	ID        string `dynamodbav:"id"`
	UserID    string `dynamodbav:"user_id"`
	Purpose   string `dynamodbav:"purpose"`
	Code      string `dynamodbav:"code"`
	Used      bool   `dynamodbav:"used"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
	CreatedAt int64  `dynamodbav:"created_at"`
	TTL       int64  `dynamodbav:"TTL"`
}

type activeItem struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	ActiveID string `dynamodbav:"active_id"`
	Version  int64  `dynamodbav:"version"`
}

func toOTPItem(rec *models.OTPRecord) otpItem {
	created := rec.CreatedAt.UnixNano()
	return otpItem{
		PK:        otpPK(rec.UserID, string(rec.Purpose)),
		SK:        otpSK(created, rec.ID),
		ID:        rec.ID,
		UserID:    rec.UserID,
		Purpose:   string(rec.Purpose),
		Code:      rec.Code,
		Used:      rec.Used,
		ExpiresAt: rec.ExpiresAt.UnixNano(),
		CreatedAt: created,
		TTL:       rec.ExpiresAt.Add(otpRetention).Unix(),
	}
}

func (i otpItem) toRecord() *models.OTPRecord {
	return &models.OTPRecord{
		ID:        i.ID,
		UserID:    i.UserID,
		Purpose:   models.Purpose(i.Purpose),
		Code:      i.Code,
		Used:      i.Used,
		ExpiresAt: time.Unix(0, i.ExpiresAt).UTC(),
		CreatedAt: time.Unix(0, i.CreatedAt).UTC(),
	}
}

func nanos(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixNano(), 10)}
}

// Replace marks every unused record of the given purposes as used and stores
// rec as the new active record of its partition. The ACTIVE pointer is
// version-checked, so two concurrent issuances cannot both win.
func (r *OTPRepository) Replace(ctx context.Context, rec *models.OTPRecord, invalidate []models.Purpose) error {
	var stale []otpItem
	for _, purpose := range invalidate {
		items, err := r.query(ctx, otpPK(rec.UserID, string(purpose)), "#used = :false", map[string]types.AttributeValue{
			":false": &types.AttributeValueMemberBOOL{Value: false},
		}, true)
		if err != nil {
			return err
		}
		stale = append(stale, items...)
	}

	current, err := r.getActive(ctx, rec.UserID, rec.Purpose)
	if err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(toOTPItem(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal OTP: %w", err)
	}

	pointer := activeItem{
		PK:       otpPK(rec.UserID, string(rec.Purpose)),
		SK:       activeSK,
		ActiveID: rec.ID,
		Version:  1,
	}
	pointerCond := "attribute_not_exists(PK)"
	var pointerNames map[string]string
	var pointerValues map[string]types.AttributeValue
	if current != nil {
		pointer.Version = current.Version + 1
		pointerCond = "#version = :version"
		pointerNames = map[string]string{"#version": "version"}
		pointerValues = map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
		}
	}
	pointerAV, err := attributevalue.MarshalMap(pointer)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP pointer: %w", err)
	}

	writes := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}},
		{Put: &types.Put{
			TableName:                 aws.String(r.tableName),
			Item:                      pointerAV,
			ConditionExpression:       aws.String(pointerCond),
			ExpressionAttributeNames:  pointerNames,
			ExpressionAttributeValues: pointerValues,
		}},
	}
	for _, s := range stale {
		if len(writes) >= maxTransactItems {
			// The pointer swap alone already retires anything left over.
			r.logger.WithField("user_id", rec.UserID).Warn("Too many pending OTPs to invalidate in one transaction")
			break
		}
		writes = append(writes, types.TransactWriteItem{Update: &types.Update{
			TableName:                aws.String(r.tableName),
			Key:                      key(s.PK, s.SK),
			UpdateExpression:         aws.String("SET #used = :true"),
			ConditionExpression:      aws.String("attribute_exists(PK)"),
			ExpressionAttributeNames: map[string]string{"#used": "used"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":true": &types.AttributeValueMemberBOOL{Value: true},
			},
		}})
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if isConditionFailure(err) {
			return ErrConcurrentIssue
		}
		r.logger.WithError(err).Error("Failed to store OTP in DynamoDB")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

// FindActive returns the most recently created unused, unexpired record of
// (user, purpose) carrying code, or nil when there is none.
func (r *OTPRepository) FindActive(ctx context.Context, userID string, purpose models.Purpose, code string, now time.Time) (*models.OTPRecord, error) {
	items, err := r.query(ctx, otpPK(userID, string(purpose)),
		"#code = :code AND #used = :false AND #expires_at > :now",
		map[string]types.AttributeValue{
			":code":  &types.AttributeValueMemberS{Value: code},
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":now":   nanos(now),
		}, false)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, nil
	}

	return items[0].toRecord(), nil
}

// Consume flips used to true, provided the record is still unused, unexpired
// and the active one of its partition. With markEmailVerified the owner's
// email_verified_at is set in the same transaction unless it already is.
func (r *OTPRepository) Consume(ctx context.Context, rec *models.OTPRecord, now time.Time, markEmailVerified bool) error {
	it := toOTPItem(rec)
	writes := []types.TransactWriteItem{
		{Update: &types.Update{
			TableName:           aws.String(r.tableName),
			Key:                 key(it.PK, it.SK),
			UpdateExpression:    aws.String("SET #used = :true"),
			ConditionExpression: aws.String("#used = :false AND #expires_at > :now"),
			ExpressionAttributeNames: map[string]string{
				"#used":       "used",
				"#expires_at": "expires_at",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":true":  &types.AttributeValueMemberBOOL{Value: true},
				":false": &types.AttributeValueMemberBOOL{Value: false},
				":now":   nanos(now),
			},
		}},
		{ConditionCheck: &types.ConditionCheck{
			TableName:                aws.String(r.tableName),
			Key:                      key(it.PK, activeSK),
			ConditionExpression:      aws.String("#active_id = :id"),
			ExpressionAttributeNames: map[string]string{"#active_id": "active_id"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":id": &types.AttributeValueMemberS{Value: rec.ID},
			},
		}},
	}

	if markEmailVerified {
		stamp := &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)}
		writes = append(writes, types.TransactWriteItem{Update: &types.Update{
			TableName:           aws.String(r.tableName),
			Key:                 key(userPK(rec.UserID), profileSK),
			UpdateExpression:    aws.String("SET email_verified_at = if_not_exists(email_verified_at, :now), updated_at = :now"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": stamp,
			},
		}})
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		if isConditionFailure(err) {
			return ErrOTPNotActive
		}
		r.logger.WithError(err).Error("Failed to consume OTP in DynamoDB")
		return fmt.Errorf("failed to consume OTP: %w", err)
	}

	return nil
}

func (r *OTPRepository) getActive(ctx context.Context, userID string, purpose models.Purpose) (*activeItem, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key(otpPK(userID, string(purpose)), activeSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP pointer: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var item activeItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP pointer: %w", err)
	}

	return &item, nil
}

var otpAttributeNames = map[string]string{
	"#code":       "code",
	"#used":       "used",
	"#expires_at": "expires_at",
}

// query walks the code records of a partition, newest first, applying filter.
// Unless all is set it stops at the first page holding a match.
func (r *OTPRepository) query(ctx context.Context, pk, filter string, values map[string]types.AttributeValue, all bool) ([]otpItem, error) {
	names := map[string]string{}
	for placeholder, name := range otpAttributeNames {
		if strings.Contains(filter, placeholder) {
			names[placeholder] = name
		}
	}

	exprValues := map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: pk},
		":prefix": &types.AttributeValueMemberS{Value: otpSKPrefix},
	}
	for k, v := range values {
		exprValues[k] = v
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: exprValues,
		ScanIndexForward:          aws.Bool(false),
		ConsistentRead:            aws.Bool(true),
	})

	var out []otpItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			r.logger.WithError(err).Error("Failed to query OTPs from DynamoDB")
			return nil, fmt.Errorf("failed to query OTPs: %w", err)
		}

		var items []otpItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OTPs: %w", err)
		}
		out = append(out, items...)

		if !all && len(out) > 0 {
			break
		}
	}

	return out, nil
}
