package meetsdk

// Version is the semver of this SDK.
const Version = "0.3.1"
