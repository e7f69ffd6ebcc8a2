package version

// Version is the current version of the syncwatch binary.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/Carthicc/karlynn/internal/version.Version=v1.0.0'"
var Version = "dev"
