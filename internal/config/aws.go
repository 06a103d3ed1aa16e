package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
)

// LoadAWS 는 리전만 고정하고 나머지(credential chain 등)는 SDK 기본값을 따르는
// aws.Config 를 만든다. S3 / CloudWatch 클라이언트가 공유한다.
func LoadAWS(ctx context.Context, cfg Config) (aws.Config, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}
