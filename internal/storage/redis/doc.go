// Package redis caches generated proof bundles so clients can fetch them by
// ID after generation. Bundles are stored as snappy-compressed JSON either in
// Redis or in an in-process fastcache instance.
package redis
