package native

import "errors"

// ErrNativeBackendDisabled is returned by Launch and Attach on platforms
// this package was built without a backend for.
var ErrNativeBackendDisabled = errors.New("native backend disabled during compilation")
