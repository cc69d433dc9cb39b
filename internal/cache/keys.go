package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobProgressKey(recordID uuid.UUID) string {
	return fmt.Sprintf("job:%s", recordID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
