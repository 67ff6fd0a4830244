// Package screenshots stores page captures referenced by escalations and
// error records. Content is addressed by SHA-256 so repeated captures of
// the same page deduplicate. A filesystem backend serves single-node
// deployments; an S3 backend serves everything else.
package screenshots
