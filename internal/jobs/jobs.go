// Package jobs defines the payloads carried by each fulfillment queue. Every
// queue's payload is a closed set of variants so handlers can switch on the
// concrete type instead of a string tag.
package jobs

import (
	"errors"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

// ErrInvalidPayload is returned when a job body cannot be decoded
var ErrInvalidPayload = errors.New("invalid job payload")

// Payload is implemented by every job body.
type Payload = queue.Payload
