// Package secrets resolves the connection parameters of the reporting database.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrSecretMissing = errors.New("secret value missing")

// Credentials are the parameters needed to open the reporting database.
// When DSN is set it takes precedence over the discrete fields.
type Credentials struct {
	Name     string
	User     string
	Password string
	Host     string
	Port     string
	DSN      string
}

type Provider interface {
	DBCredentials(ctx context.Context) (Credentials, error)
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.DSN) != "" {
		return nil
	}
	missing := make([]string, 0, 4)
	if c.Name == "" {
		missing = append(missing, "DB_NAME")
	}
	if c.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Port == "" {
		missing = append(missing, "DB_PORT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrSecretMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ParseSecretJSON decodes the secret document
// {DB_NAME, DB_USER, DB_PASSWORD, DB_HOST, DB_PORT}. DB_PORT may be a string
// or a number.
func ParseSecretJSON(raw []byte) (Credentials, error) {
	var doc map[string]any
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return Credentials{}, fmt.Errorf("decode secret document: %w", err)
	}
	creds := Credentials{
		Name:     stringField(doc, "DB_NAME"),
		User:     stringField(doc, "DB_USER"),
		Password: stringField(doc, "DB_PASSWORD"),
		Host:     stringField(doc, "DB_HOST"),
		Port:     stringField(doc, "DB_PORT"),
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

func stringField(doc map[string]any, key string) string {
	switch value := doc[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

// Static serves a fixed DSN, for local development and tests.
type Static struct {
	DSN string
}

func (s Static) DBCredentials(_ context.Context) (Credentials, error) {
	if strings.TrimSpace(s.DSN) == "" {
		return Credentials{}, fmt.Errorf("%w: dsn", ErrSecretMissing)
	}
	return Credentials{DSN: strings.TrimSpace(s.DSN)}, nil
}
