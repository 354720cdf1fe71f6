package services

import (
	"time"

	"light-mint-service/models"
)

// Clock returns the current time; services default to time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func (c Clock) today() string {
	return c.now().Format(models.DateLayout)
}
