// Package all links every built-in driver into the binary.
package all

import (
	_ "github.com/mengxiangmengyuan/fabrik/internal/driver/jsonfile"
	_ "github.com/mengxiangmengyuan/fabrik/internal/driver/rest"
	_ "github.com/mengxiangmengyuan/fabrik/internal/driver/s3"
	_ "github.com/mengxiangmengyuan/fabrik/internal/driver/sqlsource"
)
