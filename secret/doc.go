// Package secret resolves configuration values that carry credentials:
// webhook signing secrets, admin JWT keys, API keys, database DSNs and
// Redis URLs.
//
// A value is first expanded against the environment with ExpandEnvStrict,
// then any secret reference in it is resolved by a Provider:
//
//	secretref:env:RESACCESS_WEBHOOK_SECRET
//	secretref:file:/run/secrets/admin_jwt_key
//	Bearer secretref:env:API_TOKEN
//
// A reference may be the whole value or embedded in it.
package secret
