package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"order-bot/internal/domain"
)

const (
	pkPrefixChat = "CHAT#"
	skPrefixMsg  = "MSG#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client stores chat exchanges in a DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func chatPK(id string) string {
	return pkPrefixChat + id
}

func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

// Record persists a completed exchange. Keys are filled in when missing.
func (c *Client) Record(ctx context.Context, ex domain.Exchange) error {
	if strings.TrimSpace(ex.ID) == "" {
		return errors.New("repository: Record: exchange ID is required")
	}
	if ex.PK == "" || ex.SK == "" {
		now := c.now()
		ex.PK = chatPK(ex.ID)
		ex.SK = msgSK(now)
		if ex.CreatedAt == "" {
			ex.CreatedAt = now.UTC().Format(time.RFC3339)
		}
		if ex.TTL == 0 {
			ex.TTL = now.Add(ttlDuration).Unix()
		}
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                exchangeItem(ex),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Record: %w", err)
	}
	return nil
}

func exchangeItem(ex domain.Exchange) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: ex.PK},
		"SK":            &types.AttributeValueMemberS{Value: ex.SK},
		"id":            &types.AttributeValueMemberS{Value: ex.ID},
		"correlationId": &types.AttributeValueMemberS{Value: ex.CorrelationID},
		"message":       &types.AttributeValueMemberS{Value: ex.Message},
		"response":      &types.AttributeValueMemberS{Value: ex.Response},
		"blocked":       &types.AttributeValueMemberBOOL{Value: ex.Blocked},
		"createdAt":     &types.AttributeValueMemberS{Value: ex.CreatedAt},
		"ttl":           &types.AttributeValueMemberN{Value: strconv.FormatInt(ex.TTL, 10)},
	}
	if len(ex.Actions) > 0 {
		list := make([]types.AttributeValue, 0, len(ex.Actions))
		for _, a := range ex.Actions {
			list = append(list, &types.AttributeValueMemberS{Value: a})
		}
		item["actions"] = &types.AttributeValueMemberL{Value: list}
	}
	return item
}
