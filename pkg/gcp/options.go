package gcp

import (
	"strings"

	"google.golang.org/api/option"

	"github.com/subradar/subradar-backend/pkg/config"
)

// ClientOptions returns the credential options shared by every Google Cloud client.
// Inline JSON wins over a credentials file; with neither set the SDK falls back to ADC.
func ClientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}
