// This file is used to detect build on unsupported GOOS/GOARCH combinations.

//go:build darwin && macnative && !amd64 && !arm64
// +build darwin,macnative,!amd64,!arm64

package your_darwin_architecture_is_not_supported_by_tele
