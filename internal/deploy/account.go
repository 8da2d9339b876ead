package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ErrAccountMismatch indicates the configured account differs from the
// account of the credentials in use.
var ErrAccountMismatch = errors.New("configured account does not match credentials")

// ResolveAccount returns the account of the calling credentials. A non-empty
// configured account must match it.
func ResolveAccount(ctx context.Context, client STSAPI, configured string) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("cannot resolve caller account: %w", err)
	}

	account := aws.ToString(out.Account)
	if configured != "" && configured != account {
		return "", fmt.Errorf("%w: configured %s, credentials belong to %s", ErrAccountMismatch, configured, account)
	}

	return account, nil
}
