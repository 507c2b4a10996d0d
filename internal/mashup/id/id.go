// Package id names mashup runs. A run ID is also the S3 folder of the
// published mashup, so IDs sort in creation order.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

const (
	prefix = "mashup-"
	layout = "20060102T150405Z"
)

// Generate returns an ID for a run starting now, e.g.
// mashup-20240101T120000Z-a1b2c3d4e5.
func Generate() string {
	return New(time.Now(), rand.Reader)
}

// New builds the ID of a run created at t, with a suffix read from random.
// When random fails the ID carries the timestamp only.
func New(t time.Time, random io.Reader) string {
	stamp := prefix + t.UTC().Format(layout)
	suffix := make([]byte, 5)
	if _, err := io.ReadFull(random, suffix); err != nil {
		return stamp
	}
	return fmt.Sprintf("%s-%x", stamp, suffix)
}
