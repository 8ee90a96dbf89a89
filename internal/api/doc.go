// Package api exposes the recorder, proof bundles, pattern parsing and
// validation requests over HTTP.
package api
