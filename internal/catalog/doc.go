// Package catalog holds the registry of installable apps.
//
// An App describes a third-party or system app: its package name,
// kind (standard, background, system), the public URL its server
// listens on, declared permissions, and hardware requirements. Apps
// are seeded from manifest files on disk (.json, .yaml, .yml) and
// served from an in-memory store.
//
// The Authenticator verifies app API keys against bcrypt hashes kept
// in the manifest, so plaintext keys never live in the catalog.
package catalog
