package rpcrt

import (
	"context"
	"strconv"
	"strings"

	"github.com/protobound/gateway/internal/gatewayerr"
)

// Upload is a file submitted via a multipart GraphQL request, read fully
// into memory by the HTTP surface before the operation executes.
type Upload struct {
	Filename string
	Content  []byte
}

// uploadSentinelPrefix marks a bytes-input argument value as a reference
// into the request's uploads, rather than literal data (spec.md 4.F).
const uploadSentinelPrefix = "#__graphql_file__:"

// UploadSentinel builds the argument value the HTTP surface substitutes for
// a multipart file variable, referencing uploads[idx] in the slice later
// attached to the request context via WithUploads.
func UploadSentinel(idx int) string {
	return uploadSentinelPrefix + strconv.Itoa(idx)
}

type uploadsContextKey struct{}

// WithUploads attaches the multipart uploads of one request to ctx, keyed by
// their declared index, for bytes-input arguments to resolve against.
func WithUploads(ctx context.Context, uploads []Upload) context.Context {
	return context.WithValue(ctx, uploadsContextKey{}, uploads)
}

func uploadsFrom(ctx context.Context) []Upload {
	u, _ := ctx.Value(uploadsContextKey{}).([]Upload)
	return u
}

// resolveUploadSentinel looks up the upload referenced by a
// "#__graphql_file__:<index>" argument value.
func resolveUploadSentinel(ctx context.Context, sentinel string) ([]byte, error) {
	idxStr := strings.TrimPrefix(sentinel, uploadSentinelPrefix)
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidRequest, "invalid upload reference "+sentinel, err)
	}
	uploads := uploadsFrom(ctx)
	if idx < 0 || idx >= len(uploads) {
		return nil, gatewayerr.Newf(gatewayerr.Internal, "upload reference out of range: %s", sentinel)
	}
	return uploads[idx].Content, nil
}
