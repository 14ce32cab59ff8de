// ABOUTME: Build identity for logs and the status display
// ABOUTME: Version is overridden at link time with -ldflags
package version

// Version is set with -ldflags "-X .../internal/version.Version=..."
var Version = "0.1.0"

const (
	Product      = "playthrough-go"
	Manufacturer = "liscio"
)

// String returns "product version"
func String() string {
	return Product + " " + Version
}
