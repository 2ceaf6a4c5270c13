//go:build !gcp

package audit

import (
	"context"
	"fmt"
)

func newGCSObjectStore(ctx context.Context, cfg ObjectStoreConfig) (ObjectStore, error) {
	return nil, fmt.Errorf("audit: GCS evidence storage is not enabled in this build (use -tags gcp)")
}
