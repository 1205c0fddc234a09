package testutil

import (
	"encoding/base64"
	"fmt"
)

// ElasticUserSecret renders `kubectl get secret -o json` output for an ECK
// elastic-user secret holding password.
func ElasticUserSecret(name, password string) string {
	return fmt.Sprintf(`{
  "apiVersion": "v1",
  "kind": "Secret",
  "metadata": {"name": %q, "namespace": "elastic"},
  "type": "Opaque",
  "data": {"elastic": %q}
}`, name, base64.StdEncoding.EncodeToString([]byte(password)))
}

// APIKeyResponse renders a successful _security/api_key response.
func APIKeyResponse(name, encoded string) string {
	return fmt.Sprintf(`{"id":"VuaCfGcBCdbkQm-e5aOx","name":%q,"expiration":1735689600000,"api_key":"ui2lp2axTNmsyakw9tvNnw","encoded":%q}`, name, encoded)
}
