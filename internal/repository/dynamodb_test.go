package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo serves canned reads and records every write.
type fakeDynamo struct {
	items       map[string]map[string]types.AttributeValue
	queryItems  []map[string]types.AttributeValue
	transactErr error
	updateErr   error

	queries      []*dynamodb.QueryInput
	transactions []*dynamodb.TransactWriteItemsInput
	updates      []*dynamodb.UpdateItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(k map[string]types.AttributeValue) string {
	return k["PK"].(*types.AttributeValueMemberS).Value + "|" + k["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(params.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[itemKey(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, params)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, params)
	return &dynamodb.QueryOutput{Items: f.queryItems}, nil
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactions = append(f.transactions, params)
	return &dynamodb.TransactWriteItemsOutput{}, f.transactErr
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func cancelled(code string) error {
	return &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String(code)},
		},
	}
}

func TestIsConditionFailure(t *testing.T) {
	assert.True(t, isConditionFailure(&types.ConditionalCheckFailedException{}))
	assert.True(t, isConditionFailure(cancelled("ConditionalCheckFailed")))
	assert.True(t, isConditionFailure(cancelled("TransactionConflict")))
	assert.False(t, isConditionFailure(cancelled("ThrottlingError")))
	assert.False(t, isConditionFailure(errors.New("boom")))
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "t", discardLogger())
	ctx := context.Background()

	user, err := repo.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, user)

	profile, err := attributevalue.MarshalMap(models.User{ID: "u1", Email: "a@x.com", Name: "A"})
	require.NoError(t, err)
	profile["PK"] = &types.AttributeValueMemberS{Value: userPK("u1")}
	profile["SK"] = &types.AttributeValueMemberS{Value: profileSK}
	db.items[userPK("u1")+"|"+profileSK] = profile

	idx, err := attributevalue.MarshalMap(emailItem{PK: emailPK("a@x.com"), SK: emailSK, UserID: "u1"})
	require.NoError(t, err)
	db.items[emailPK("a@x.com")+"|"+emailSK] = idx

	user, err = repo.GetByEmail(ctx, "  A@X.com ")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "A", user.Name)
}

func TestUserRepository_Create(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "t", discardLogger())
	ctx := context.Background()

	user := &models.User{Email: "New@X.com"}
	require.NoError(t, repo.Create(ctx, user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "new@x.com", user.Email)

	require.Len(t, db.transactions, 1)
	writes := db.transactions[0].TransactItems
	require.Len(t, writes, 2)
	assert.Equal(t, userPK(user.ID)+"|"+profileSK, itemKey(writes[0].Put.Item))
	assert.Equal(t, emailPK("new@x.com")+"|"+emailSK, itemKey(writes[1].Put.Item))

	db.transactErr = cancelled("ConditionalCheckFailed")
	assert.ErrorIs(t, repo.Create(ctx, &models.User{Email: "new@x.com"}), ErrUserExists)
}

func TestUserRepository_UpdateMissing(t *testing.T) {
	db := newFakeDynamo()
	db.updateErr = &types.ConditionalCheckFailedException{}
	repo := NewUserRepository(db, "t", discardLogger())

	name := "B"
	err := repo.UpdateProfile(context.Background(), "u1", models.ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrUserMissing)

	require.Len(t, db.updates, 1)
	assert.Equal(t, "name", db.updates[0].ExpressionAttributeNames["#name"])
}

func TestUserRepository_UpdateCareerProfile(t *testing.T) {
	db := newFakeDynamo()
	repo := NewUserRepository(db, "t", discardLogger())

	years, onboarded := 3, true
	err := repo.UpdateProfile(context.Background(), "u1", models.ProfileUpdate{
		YearsExperience: &years,
		Skills:          []string{"go"},
		Onboarded:       &onboarded,
	})
	require.NoError(t, err)

	require.Len(t, db.updates, 2)
	create := db.updates[0]
	assert.Equal(t, "SET #profile = if_not_exists(#profile, :empty)", *create.UpdateExpression)

	set := db.updates[1]
	assert.Equal(t, "SET updated_at = :updated_at, #profile.#p_onboarded = :p_onboarded, #profile.#p_skills = :p_skills, #profile.#p_years_experience = :p_years_experience", *set.UpdateExpression)
	assert.Equal(t, "3", set.ExpressionAttributeValues[":p_years_experience"].(*types.AttributeValueMemberN).Value)
	assert.IsType(t, &types.AttributeValueMemberL{}, set.ExpressionAttributeValues[":p_skills"])
	assert.Equal(t, "profile", set.ExpressionAttributeNames["#profile"])
}

func TestCareerProfileAttributeNames(t *testing.T) {
	profile, err := attributevalue.MarshalMap(models.User{
		ID:      "u1",
		Email:   "a@x.com",
		Profile: &models.CareerProfile{TargetCompany: "Acme", Skills: []string{"go"}, Onboarded: true},
	})
	require.NoError(t, err)

	nested, ok := profile["profile"].(*types.AttributeValueMemberM)
	require.True(t, ok)
	assert.Contains(t, nested.Value, "target_company")
	assert.Contains(t, nested.Value, "onboarded")
}

func testRecord(now time.Time) *models.OTPRecord {
	return &models.OTPRecord{
		ID:        "otp-2",
		UserID:    "u1",
		Purpose:   models.PurposeVerify,
		Code:      "123456",
		ExpiresAt: now.Add(10 * time.Minute),
		CreatedAt: now,
	}
}

func TestOTPRepository_ReplaceFirstIssue(t *testing.T) {
	db := newFakeDynamo()
	repo := NewOTPRepository(db, "t", discardLogger())
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	stale, err := attributevalue.MarshalMap(toOTPItem(&models.OTPRecord{
		ID: "otp-1", UserID: "u1", Purpose: models.PurposeVerify, Code: "654321",
		ExpiresAt: now.Add(time.Minute), CreatedAt: now.Add(-9 * time.Minute),
	}))
	require.NoError(t, err)
	db.queryItems = []map[string]types.AttributeValue{stale}

	require.NoError(t, repo.Replace(context.Background(), testRecord(now), []models.Purpose{models.PurposeVerify}))

	require.Len(t, db.queries, 1)
	assert.Equal(t, otpPK("u1", "verify"), db.queries[0].ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "used", db.queries[0].ExpressionAttributeNames["#used"])

	require.Len(t, db.transactions, 1)
	writes := db.transactions[0].TransactItems
	require.Len(t, writes, 3)
	assert.Equal(t, "attribute_not_exists(PK)", *writes[1].Put.ConditionExpression)
	assert.Equal(t, otpPK("u1", "verify")+"|"+activeSK, itemKey(writes[1].Put.Item))
	require.NotNil(t, writes[2].Update)
	assert.Equal(t, "SET #used = :true", *writes[2].Update.UpdateExpression)
	// A stale record that expired out of the table must not come back as a stub.
	require.NotNil(t, writes[2].Update.ConditionExpression)
	assert.Equal(t, "attribute_exists(PK)", *writes[2].Update.ConditionExpression)
}

func TestOTPRepository_ReplaceBumpsVersion(t *testing.T) {
	db := newFakeDynamo()
	repo := NewOTPRepository(db, "t", discardLogger())
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	pointer, err := attributevalue.MarshalMap(activeItem{PK: otpPK("u1", "verify"), SK: activeSK, ActiveID: "otp-1", Version: 4})
	require.NoError(t, err)
	db.items[otpPK("u1", "verify")+"|"+activeSK] = pointer

	require.NoError(t, repo.Replace(context.Background(), testRecord(now), nil))

	put := db.transactions[0].TransactItems[1].Put
	assert.Equal(t, "#version = :version", *put.ConditionExpression)
	assert.Equal(t, "4", put.ExpressionAttributeValues[":version"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "5", put.Item["version"].(*types.AttributeValueMemberN).Value)

	db.transactErr = cancelled("ConditionalCheckFailed")
	assert.ErrorIs(t, repo.Replace(context.Background(), testRecord(now), nil), ErrConcurrentIssue)
}

func TestOTPRepository_FindActive(t *testing.T) {
	db := newFakeDynamo()
	repo := NewOTPRepository(db, "t", discardLogger())
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	rec, err := repo.FindActive(context.Background(), "u1", models.PurposeReset, "123456", now)
	require.NoError(t, err)
	assert.Nil(t, rec)

	item, err := attributevalue.MarshalMap(toOTPItem(testRecord(now)))
	require.NoError(t, err)
	db.queryItems = []map[string]types.AttributeValue{item}

	rec, err = repo.FindActive(context.Background(), "u1", models.PurposeVerify, "123456", now)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "otp-2", rec.ID)
	assert.True(t, rec.ExpiresAt.Equal(now.Add(10*time.Minute)))
	assert.False(t, *db.queries[1].ScanIndexForward)
}

func TestOTPRepository_Consume(t *testing.T) {
	db := newFakeDynamo()
	repo := NewOTPRepository(db, "t", discardLogger())
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Consume(context.Background(), testRecord(now), now, true))
	writes := db.transactions[0].TransactItems
	require.Len(t, writes, 3)
	assert.Equal(t, "#active_id = :id", *writes[1].ConditionCheck.ConditionExpression)
	assert.Contains(t, *writes[2].Update.UpdateExpression, "if_not_exists(email_verified_at")

	require.NoError(t, repo.Consume(context.Background(), testRecord(now), now, false))
	assert.Len(t, db.transactions[1].TransactItems, 2)

	db.transactErr = cancelled("ConditionalCheckFailed")
	assert.ErrorIs(t, repo.Consume(context.Background(), testRecord(now), now, false), ErrOTPNotActive)

	db.transactErr = errors.New("network")
	err := repo.Consume(context.Background(), testRecord(now), now, false)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrOTPNotActive)
}
