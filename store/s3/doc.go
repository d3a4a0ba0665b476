// Package s3 provides an S3 implementation of the store.Store interface.
//
// # Usage
//
//	st, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("datasets/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	ds, err := dataset.Open(ctx, st, "clouds/train")
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Streaming multipart uploads with CRC32C checksums
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - DynamoDB-backed commit log for safe concurrent catalog updates
package s3
