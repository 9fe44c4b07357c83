package blob

import (
	"context"
	"fmt"
)

// Options selects and configures an output sink.
type Options struct {
	Driver string // fs|s3|memory (default fs)
	Dir    string // output directory for fs
	S3     S3Config
}

// Open returns the Store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(opts.Dir)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
