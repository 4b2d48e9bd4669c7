// Package config loads the configuration of a resaccess deployment.
//
// Sources are applied in order, later ones winning:
//
//  1. Defaults.
//  2. A YAML file, after strict ${VAR} expansion.
//  3. Environment variables: RESACCESS_* names plus the legacy
//     EVENT_RETENTION_DAYS, MAX_EVENTS_IN_MEMORY, CACHE_DIRECTORY and
//     WEBHOOK_TIMEOUT_MS.
//
// Variables from .env files are loaded first without overriding the real
// environment. Credential fields may hold secretref: references, resolved
// after all sources are merged. A loaded Config is not mutated afterwards.
package config
