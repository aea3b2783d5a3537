// This file is used to detect build on unsupported GOOS/GOARCH combinations.

//go:build solaris && !amd64
// +build solaris,!amd64

package your_solaris_architecture_is_not_supported_by_tele
