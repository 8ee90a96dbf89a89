// Package mysql persists the event journal and validation requests in MySQL.
// Schema changes ship as embedded SQL migrations applied on Open.
package mysql
