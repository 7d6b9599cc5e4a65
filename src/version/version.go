package version

// Version is overridden at build time with -ldflags "-X repo-backup/src/version.Version=...".
var Version = "dev"
