package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	t.Setenv(EndpointOverrideEnv, "")
	t.Setenv("AWS_REGION", "")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "us-east-1" {
		t.Fatalf("expected default region 'us-east-1', got %s", cfg.Region)
	}
	if cfg.BaseEndpoint != nil {
		t.Fatalf("expected no endpoint override, got %s", *cfg.BaseEndpoint)
	}
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv(EndpointOverrideEnv, "http://localhost:4566")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "eu-west-1" {
		t.Fatalf("region mismatch, got %s", cfg.Region)
	}
	if cfg.BaseEndpoint == nil || *cfg.BaseEndpoint != "http://localhost:4566" {
		t.Fatalf("endpoint override not applied: %v", cfg.BaseEndpoint)
	}
}

func TestNewAWSClientsFromConfig(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-central-1")
	t.Setenv(EndpointOverrideEnv, "http://localhost:4566")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clients := NewAWSClientsFromConfig(cfg)

	ddb, ok := clients.DynamoDB.(*dynamodb.Client)
	if !ok {
		t.Fatalf("expected *dynamodb.Client, got %T", clients.DynamoDB)
	}
	if got := ddb.Options().RetryMaxAttempts; got != DynamoDBMaxAttempts {
		t.Fatalf("expected %d dynamodb attempts, got %d", DynamoDBMaxAttempts, got)
	}
	if ddb.Options().Region != "eu-central-1" {
		t.Fatalf("region not propagated: %s", ddb.Options().Region)
	}
	if clients.SQS == nil || clients.CloudWatch == nil {
		t.Fatal("expected sqs and cloudwatch clients")
	}
}
