package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func FeedKey(tenantID uuid.UUID, feedHash string) string {
	return fmt.Sprintf("feed:%s:%s", tenantID, feedHash)
}
