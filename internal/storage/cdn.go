package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
)

// Invalidator purges cached copies of reclaimed blobs.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// CloudFrontInvalidator issues invalidations against one distribution.
type CloudFrontInvalidator struct {
	client         *cloudfront.Client
	distributionID string
	prefix         string
}

// NewCloudFrontInvalidator binds a client to a distribution. prefix is the
// object key prefix the distribution's origin path maps to.
func NewCloudFrontInvalidator(client *cloudfront.Client, distributionID, prefix string) *CloudFrontInvalidator {
	return &CloudFrontInvalidator{client: client, distributionID: distributionID, prefix: sanitizeKey(prefix)}
}

func (c *CloudFrontInvalidator) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		k = sanitizeKey(k)
		if c.prefix != "" {
			k = c.prefix + "/" + k
		}
		paths = append(paths, "/"+k)
	}
	_, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(c.distributionID),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("cloudfront invalidation: %w", err)
	}
	return nil
}
