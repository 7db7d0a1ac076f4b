package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/matchday-live/scraper/internal/config"
)

// secretsAPI is the one Secrets Manager call we make, as an interface so
// tests can stub it.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// dbSecret is the JSON shape RDS-managed secrets use.
type dbSecret struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
}

// ResolveDSN picks the connection string: DATABASE_URL wins outright;
// otherwise the cluster secret is fetched and expanded into a DSN.
func ResolveDSN(ctx context.Context, cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	if cfg.SecretARN == "" {
		return "", errors.New("either database url or secret arn must be set")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	return dsnFromSecretsManager(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.SecretARN)
}

func dsnFromSecretsManager(ctx context.Context, api secretsAPI, arn string) (string, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("fetch database secret: %w", err)
	}
	if out.SecretString == nil {
		return "", errors.New("database secret has no string payload")
	}
	return dsnFromSecret(*out.SecretString)
}

// dsnFromSecret expands the secret JSON into a postgres URL, escaping the
// credentials so passwords with reserved characters survive.
func dsnFromSecret(payload string) (string, error) {
	var sec dbSecret
	if err := json.Unmarshal([]byte(payload), &sec); err != nil {
		return "", fmt.Errorf("decode database secret: %w", err)
	}
	if sec.Host == "" || sec.Username == "" || sec.DBName == "" {
		return "", errors.New("database secret missing host, username or dbname")
	}
	if sec.Port == 0 {
		sec.Port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(sec.Username, sec.Password),
		Host:   sec.Host + ":" + strconv.Itoa(sec.Port),
		Path:   "/" + sec.DBName,
	}
	return u.String(), nil
}
