package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"budtender-agent/internal/domain"
)

const (
	pkPrefixTenant  = "TENANT#"
	skPrefixProduct = "PRODUCT#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Reader defines the product store operations consumed by the pipeline.
type Reader interface {
	ProductsByTenant(ctx context.Context, tenantID string) ([]domain.Product, error)
}

// Client wraps a DynamoDB table holding the imported product catalog. The
// catalog is written wholesale by the periodic import job; the pipeline only
// reads it.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func tenantPK(tenantID string) string {
	return pkPrefixTenant + tenantID
}

// ProductsByTenant queries every product record in one tenant's partition,
// following pagination, in catalog (sort key) order.
func (c *Client) ProductsByTenant(ctx context.Context, tenantID string) ([]domain.Product, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, errors.New("repository: tenant id is required")
	}

	var products []domain.Product
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixProduct},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ProductsByTenant query: %w", err)
		}
		for _, item := range out.Items {
			p, err := itemToProduct(tenantID, item)
			if err != nil {
				return nil, fmt.Errorf("repository: ProductsByTenant unmarshal: %w", err)
			}
			products = append(products, p)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return products, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// itemToProduct converts a DynamoDB attribute map to a Product. Required
// attributes fail the conversion; optional attributes default to zero values.
func itemToProduct(tenantID string, item map[string]types.AttributeValue) (domain.Product, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Product{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Product{}, err
	}
	price, err := numAttr(item, "price")
	if err != nil {
		return domain.Product{}, err
	}
	stock, err := numAttr(item, "inStock")
	if err != nil {
		return domain.Product{}, err
	}

	return domain.Product{
		TenantID:        tenantID,
		ID:              strings.TrimPrefix(sk, skPrefixProduct),
		Name:            name,
		Brand:           optStrAttr(item, "brand"),
		Category:        optStrAttr(item, "category"),
		Price:           price,
		IsCannabis:      boolAttr(item, "isCannabis"),
		AvailableOnline: boolAttr(item, "availableOnline"),
		InStock:         int(stock),
		THCPercent:      optNumAttr(item, "thcPercent"),
		CBDPercent:      optNumAttr(item, "cbdPercent"),
		Strain:          optStrAttr(item, "strain"),
		Type:            optStrAttr(item, "type"),
		ImageURL:        optStrAttr(item, "imageUrl"),
		ShopURL:         optStrAttr(item, "shopUrl"),
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return s.Value
}

func numAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optNumAttr(item map[string]types.AttributeValue, key string) float64 {
	n, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	if !ok {
		return false
	}
	return b.Value
}
