package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type UserRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type emailItem struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	UserID string `dynamodbav:"user_id"`
}

// GetByEmail resolves the email uniqueness item and then loads the profile.
// It returns nil, nil when no user owns the email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key(emailPK(models.NormalizeEmail(email)), emailSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get email index from DynamoDB")
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var idx emailItem
	if err := attributevalue.UnmarshalMap(result.Item, &idx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email index: %w", err)
	}

	return r.GetByID(ctx, idx.UserID)
}

// GetByID returns nil, nil when the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key(userPK(userID), profileSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

// Create writes the profile and the email uniqueness item in one transaction.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = models.NormalizeEmail(user.Email)
	user.CreatedAt = now
	user.UpdatedAt = now

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	idx, err := attributevalue.MarshalMap(emailItem{
		PK:     emailPK(user.Email),
		SK:     emailSK,
		UserID: user.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email index: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                idx,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.update(ctx, userID, map[string]types.AttributeValue{
		"password_hash": &types.AttributeValueMemberS{Value: passwordHash},
	}, nil)
}

// UpdateProfile changes only the fields that are set. Career fields live in
// the nested profile map, which is created on first use.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, upd models.ProfileUpdate) error {
	fields := map[string]types.AttributeValue{}
	if upd.Name != nil {
		fields["name"] = &types.AttributeValueMemberS{Value: *upd.Name}
	}
	if upd.Phone != nil {
		fields["phone"] = &types.AttributeValueMemberS{Value: *upd.Phone}
	}

	var career map[string]types.AttributeValue
	if upd.TouchesCareer() {
		career = map[string]types.AttributeValue{}
		if upd.TargetCompany != nil {
			career["target_company"] = &types.AttributeValueMemberS{Value: *upd.TargetCompany}
		}
		if upd.YearsExperience != nil {
			career["years_experience"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*upd.YearsExperience)}
		}
		if upd.Location != nil {
			career["location"] = &types.AttributeValueMemberS{Value: *upd.Location}
		}
		if upd.Skills != nil {
			skills, err := attributevalue.Marshal(upd.Skills)
			if err != nil {
				return fmt.Errorf("failed to marshal skills: %w", err)
			}
			career["skills"] = skills
		}
		if upd.Onboarded != nil {
			career["onboarded"] = &types.AttributeValueMemberBOOL{Value: *upd.Onboarded}
		}

		// A SET on profile.x fails while profile itself is missing, and one
		// expression cannot both create the map and write into it.
		_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(r.tableName),
			Key:                      key(userPK(userID), profileSK),
			UpdateExpression:         aws.String("SET #profile = if_not_exists(#profile, :empty)"),
			ConditionExpression:      aws.String("attribute_exists(PK)"),
			ExpressionAttributeNames: map[string]string{"#profile": "profile"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
			},
		})
		if err != nil {
			if isConditionFailure(err) {
				return ErrUserMissing
			}
			r.logger.WithError(err).Error("Failed to create career profile in DynamoDB")
			return fmt.Errorf("failed to update user: %w", err)
		}
	}

	return r.update(ctx, userID, fields, career)
}

func (r *UserRepository) update(ctx context.Context, userID string, fields, career map[string]types.AttributeValue) error {
	sets := []string{"updated_at = :updated_at"}
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	for field, value := range fields {
		sets = append(sets, fmt.Sprintf("#%s = :%s", field, field))
		names["#"+field] = field
		values[":"+field] = value
	}
	if len(career) > 0 {
		names["#profile"] = "profile"
		for field, value := range career {
			sets = append(sets, fmt.Sprintf("#profile.#p_%s = :p_%s", field, field))
			names["#p_"+field] = field
			values[":p_"+field] = value
		}
	}
	sort.Strings(sets[1:])

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       key(userPK(userID), profileSK),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		if isConditionFailure(err) {
			return ErrUserMissing
		}
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}
