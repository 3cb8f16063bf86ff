package types

// Version is the canonical project version.
// The CLI, the manifest format and the completion event share this version.
const Version = "0.3.0"

// ManifestVersion is the version stamped into persisted query manifests.
// It moves in lockstep with Version.
const ManifestVersion = Version
