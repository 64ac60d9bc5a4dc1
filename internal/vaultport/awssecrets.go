package vaultport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/estuary/test-probe/internal/model"
)

// AWSSecrets resolves credentials from AWS Secrets Manager, one secret
// per topic directive at NamePrefix/<topic>. The secret value must be a
// JSON object of string fields.
type AWSSecrets struct {
	client     *secretsmanager.Client
	NamePrefix string
}

func NewAWSSecrets(client *secretsmanager.Client, namePrefix string) *AWSSecrets {
	return &AWSSecrets{client: client, NamePrefix: namePrefix}
}

func (a *AWSSecrets) FetchCredentials(ctx context.Context, id model.TestId, directives []model.TopicDirective) ([]model.Credentials, error) {
	out := make([]model.Credentials, 0, len(directives))
	for _, d := range directives {
		name := fmt.Sprintf("%s/%s", a.NamePrefix, d.Topic)
		res, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(name),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: fetching secret %q: %v", model.ErrVault, name, err)
		}
		if res.SecretString == nil {
			return nil, fmt.Errorf("%w: secret %q has no string value", model.ErrVault, name)
		}
		var creds model.Credentials
		if err := json.Unmarshal([]byte(*res.SecretString), &creds); err != nil {
			return nil, fmt.Errorf("%w: secret %q is not a JSON object: %v", model.ErrVault, name, err)
		}
		out = append(out, creds)
	}
	return out, nil
}
