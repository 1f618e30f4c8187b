package modcrabfs

import "time"

// attrTTL is how long the kernel may cache attribute and entry
// lookups before re-querying this filesystem.
var attrTTL = time.Second
